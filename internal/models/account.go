package models

import "github.com/shopspring/decimal"

// AccountType represents the type of account
type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCreditCard AccountType = "credit_card"
	AccountTypeInvestment AccountType = "investment"
)

// Account represents a financial account in the system.
//
// Balance is the cached signed sum of every transaction booked against the
// account. It is only ever changed through AccountServicer.AdjustBalance inside
// the same database transaction that inserts, edits or deletes a transaction.
type Account struct {
	Base
	UserID      string          `gorm:"size:36;not null;index" json:"user_id"`
	Name        string          `gorm:"not null" json:"name"`
	Type        AccountType     `gorm:"not null" json:"type"`
	Description string          `json:"description"`
	Balance     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`
	Currency    string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	IsActive    bool            `gorm:"default:true" json:"is_active"`

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:AccountID" json:"transactions,omitempty"`
}
