package models

import "time"

// DefaultAlertThreshold is the percentage used when a budget has no preference row.
const DefaultAlertThreshold = 80

// AlertPreference configures alerting for one budget. Bool columns carry no
// database default so that an explicit false survives GORM's create path.
type AlertPreference struct {
	Base
	UserID           string `gorm:"size:36;not null;index" json:"user_id"`
	BudgetID         string `gorm:"size:36;not null;uniqueIndex" json:"budget_id"`
	ThresholdPercent int    `gorm:"not null" json:"threshold_percent"`
	BrowserAlerts    bool   `gorm:"not null" json:"browser_alerts"`
	EmailAlerts      bool   `gorm:"not null" json:"email_alerts"`
}

// DefaultAlertPreference returns the preference applied to budgets that have none stored.
func DefaultAlertPreference(userID, budgetID string) AlertPreference {
	return AlertPreference{
		UserID:           userID,
		BudgetID:         budgetID,
		ThresholdPercent: DefaultAlertThreshold,
		BrowserAlerts:    true,
		EmailAlerts:      false,
	}
}

// AlertType classifies a budget notification.
type AlertType string

const (
	AlertTypeThresholdWarning AlertType = "threshold_warning"
	AlertTypeOverBudget       AlertType = "over_budget"
)

// Notification is an in-app budget alert. At most one notification exists per
// budget, alert type and period (PeriodKey); the unique index enforces it.
type Notification struct {
	Base
	UserID    string     `gorm:"size:36;not null;index" json:"user_id"`
	BudgetID  string     `gorm:"size:36;not null;uniqueIndex:uq_notifications_dedup" json:"budget_id"`
	AlertType AlertType  `gorm:"not null;uniqueIndex:uq_notifications_dedup" json:"alert_type"`
	PeriodKey string     `gorm:"not null;size:32;uniqueIndex:uq_notifications_dedup" json:"period_key"`
	Message   string     `gorm:"not null" json:"message"`
	IsRead    bool       `gorm:"not null" json:"is_read"`
	Emailed   bool       `gorm:"not null" json:"emailed"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}
