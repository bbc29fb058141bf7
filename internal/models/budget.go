package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetPeriod represents the period type for a budget
type BudgetPeriod string

const (
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
	BudgetPeriodYearly  BudgetPeriod = "yearly"
)

// Valid reports whether p is a known budget period.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case BudgetPeriodWeekly, BudgetPeriodMonthly, BudgetPeriodYearly:
		return true
	}
	return false
}

// Budget represents a spending allowance for a category per period.
// Spend against it is always derived from transactions, never stored.
type Budget struct {
	Base
	UserID     string          `gorm:"size:36;not null;index" json:"user_id"`
	CategoryID string          `gorm:"size:36;not null" json:"category_id"`
	Name       string          `gorm:"not null" json:"name"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency   string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	Period     BudgetPeriod    `gorm:"not null" json:"period"`
	StartDate  time.Time       `gorm:"type:date;not null" json:"start_date"`
	EndDate    *time.Time      `gorm:"type:date" json:"end_date,omitempty"`
	IsActive   bool            `gorm:"default:true" json:"is_active"`

	// Relationships
	Category Category `gorm:"foreignKey:CategoryID" json:"category"`
}
