package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Valid reports whether t is a supported transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// RecurrencePattern is the cadence of a recurring transaction template.
type RecurrencePattern string

const (
	RecurrenceDaily    RecurrencePattern = "daily"
	RecurrenceWeekly   RecurrencePattern = "weekly"
	RecurrenceBiweekly RecurrencePattern = "biweekly"
	RecurrenceMonthly  RecurrencePattern = "monthly"
	RecurrenceYearly   RecurrencePattern = "yearly"
)

// Transaction represents a financial transaction in the system.
//
// Amount is always positive; the sign comes from Type. Templates
// (IsRecurring) carry a pattern and the next due date; occurrences generated
// from them are plain transactions pointing back through TemplateID.
type Transaction struct {
	Base
	UserID      string          `gorm:"size:36;not null;index" json:"user_id"`
	AccountID   string          `gorm:"size:36;not null;index;uniqueIndex:uq_transactions_account_external" json:"account_id"`
	CategoryID  *string         `gorm:"size:36;index" json:"category_id,omitempty"`
	Type        TransactionType `gorm:"not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Description string          `gorm:"size:255" json:"description"`
	Date        time.Time       `gorm:"type:date;not null;index" json:"date"`

	IsRecurring       bool               `gorm:"not null" json:"is_recurring"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	NextRecurringDate *time.Time         `gorm:"type:date;index" json:"next_recurring_date,omitempty"`
	TemplateID        *string            `gorm:"size:36;index" json:"template_id,omitempty"`

	// Dedup key for records deposited by a bank feed.
	ExternalID *string `gorm:"size:128;uniqueIndex:uq_transactions_account_external" json:"external_id,omitempty"`

	// Relationships
	Account  *Account  `gorm:"foreignKey:AccountID" json:"account,omitempty"`
	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}

// SignedAmount returns the amount with the sign implied by the type:
// positive for income, negative for expense.
func (t *Transaction) SignedAmount() decimal.Decimal {
	return SignedAmount(t.Type, t.Amount)
}

// SignedAmount applies the sign convention of transactionType to a positive amount.
func SignedAmount(transactionType TransactionType, amount decimal.Decimal) decimal.Decimal {
	if transactionType == TransactionTypeExpense {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
