package models

// CategorisationRule assigns CategoryID to any transaction whose description
// contains Pattern, compared case-insensitively. Rules of a user are tried in
// descending Priority; among equal priorities the older rule goes first.
type CategorisationRule struct {
	Base
	UserID     string  `gorm:"size:36;not null;index:idx_rules_user_priority,priority:1" json:"user_id"`
	Pattern    string  `gorm:"not null;size:255" json:"pattern"`
	CategoryID *string `gorm:"size:36" json:"category_id"`
	Priority   int     `gorm:"not null;default:0;index:idx_rules_user_priority,priority:2,sort:desc" json:"priority"`

	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}
