package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ledgercore/internal/dates"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
)

// accountService handles account-related business logic.
type accountService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAccountService creates a new AccountServicer.
func NewAccountService(db *gorm.DB) AccountServicer {
	return &accountService{db: db, now: time.Now}
}

// CreateAccount creates a new account for a user. A non-zero opening balance
// is booked as an "Initial balance" transaction so the balance stays equal to
// the signed sum of the account's transactions.
func (s *accountService) CreateAccount(
	ctx context.Context,
	userID, name string,
	accountType models.AccountType,
	description, currency string,
	initialBalance decimal.Decimal,
) (*models.Account, error) {
	// Validate input
	if name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "account name is required")
	}
	if accountType == "" {
		accountType = models.AccountTypeChecking
	}
	if currency == "" {
		currency = "USD" // Default currency
	}

	account := &models.Account{
		UserID:      userID,
		Name:        name,
		Type:        accountType,
		Description: description,
		Balance:     decimal.Zero,
		Currency:    currency,
		IsActive:    true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		if initialBalance.IsZero() {
			return nil
		}

		txType := models.TransactionTypeIncome
		if initialBalance.IsNegative() {
			txType = models.TransactionTypeExpense
		}
		opening := &models.Transaction{
			UserID:      userID,
			AccountID:   account.ID,
			Type:        txType,
			Amount:      initialBalance.Abs(),
			Description: "Initial balance",
			Date:        dates.DateOf(s.now()),
		}
		if err := tx.Create(opening).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := s.AdjustBalance(tx, account.ID, opening.SignedAmount()); err != nil {
			return err
		}
		account.Balance = opening.SignedAmount()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// GetUserAccounts retrieves a paginated list of active accounts for a user.
func (s *accountService) GetUserAccounts(ctx context.Context, userID string, page pagination.PageRequest) (*pagination.PageResponse[models.Account], error) {
	base := s.db.WithContext(ctx).Model(&models.Account{}).Where("user_id = ? AND is_active = ?", userID, true)
	result, err := pagination.FetchPage[models.Account](base, page, "created_at ASC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetAccountByID retrieves an account by ID for a specific user
func (s *accountService) GetAccountByID(ctx context.Context, userID, accountID string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ? AND is_active = ?", accountID, userID, true).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &account, nil
}

// UpdateAccount updates the descriptive fields of an account. The balance is
// never written here.
func (s *accountService) UpdateAccount(ctx context.Context, userID, accountID string, fields AccountUpdateFields) (*models.Account, error) {
	account, err := s.GetAccountByID(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if fields.Name != nil && *fields.Name != "" {
		updates["name"] = *fields.Name
	}
	if fields.Description != nil {
		updates["description"] = *fields.Description
	}
	if fields.IsActive != nil {
		updates["is_active"] = *fields.IsActive
	}

	if len(updates) > 0 {
		db := s.db.WithContext(ctx)
		if err := db.Model(account).Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		// Reload to get fresh data
		if err := db.Where("id = ?", account.ID).First(account).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}

	return account, nil
}

// AdjustBalance applies delta to the stored balance with a single
// read-modify-write statement, so concurrent adjustments never lose updates.
func (s *accountService) AdjustBalance(tx *gorm.DB, accountID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	res := tx.Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrAccountNotFound
	}
	return nil
}
