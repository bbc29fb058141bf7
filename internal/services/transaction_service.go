package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ledgercore/internal/dates"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/importer"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
)

// transactionService handles transaction-related business logic.
type transactionService struct {
	db             *gorm.DB
	accountService AccountServicer
	ruleService    RuleServicer
	observer       LedgerObserver
	now            func() time.Time
}

// NewTransactionService creates a new TransactionServicer. ruleService and
// observer may be nil: without rules no category is inferred, without an
// observer no alert evaluation follows a change.
func NewTransactionService(db *gorm.DB, accountService AccountServicer, ruleService RuleServicer, observer LedgerObserver) TransactionServicer {
	return &transactionService{
		db:             db,
		accountService: accountService,
		ruleService:    ruleService,
		observer:       observer,
		now:            time.Now,
	}
}

// CreateTransaction books a transaction and applies its signed amount to the
// account balance in one database transaction. Without an explicit category
// the user's categorisation rules are consulted.
func (s *transactionService) CreateTransaction(ctx context.Context, userID string, in TransactionInput) (*models.Transaction, error) {
	// Validate input
	if !in.Amount.IsPositive() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	if !in.Type.Valid() {
		return nil, apperrors.ErrInvalidTransactionType
	}
	if in.AccountID == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "account ID is required")
	}

	// Default date to today if not provided
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	date = dates.DateOf(date)

	account, err := s.accountService.GetAccountByID(ctx, userID, in.AccountID)
	if err != nil {
		return nil, err
	}

	categoryID := in.CategoryID
	if categoryID != nil {
		if err := s.checkCategory(ctx, userID, *categoryID); err != nil {
			return nil, err
		}
	} else if s.ruleService != nil {
		if categoryID, err = s.ruleService.Match(ctx, userID, in.Description); err != nil {
			return nil, err
		}
	}

	pattern, next, err := recurrenceFields(in.IsRecurring, in.RecurrencePattern, in.NextRecurringDate, date)
	if err != nil {
		return nil, err
	}

	externalID := normalizeExternalID(in.ExternalID)
	if externalID != nil {
		if err := s.checkExternalID(ctx, account.ID, *externalID); err != nil {
			return nil, err
		}
	}

	transaction := &models.Transaction{
		UserID:            userID,
		AccountID:         account.ID,
		CategoryID:        categoryID,
		Type:              in.Type,
		Amount:            in.Amount,
		Description:       importer.TruncateDescription(strings.TrimSpace(in.Description)),
		Date:              date,
		IsRecurring:       in.IsRecurring,
		RecurrencePattern: pattern,
		NextRecurringDate: next,
		ExternalID:        externalID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(transaction).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.accountService.AdjustBalance(tx, account.ID, transaction.SignedAmount())
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, userID)
	return transaction, nil
}

// UpdateTransaction edits a transaction. The old signed amount is removed from
// the old account and the new one applied to the (possibly different) new
// account within the same database transaction.
func (s *transactionService) UpdateTransaction(ctx context.Context, userID, transactionID string, in TransactionUpdate) (*models.Transaction, error) {
	existing, err := s.GetTransactionByID(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	oldAccountID := existing.AccountID
	oldSigned := existing.SignedAmount()

	updated := *existing
	updated.Account = nil
	updated.Category = nil

	if in.AccountID != nil && *in.AccountID != existing.AccountID {
		account, err := s.accountService.GetAccountByID(ctx, userID, *in.AccountID)
		if err != nil {
			return nil, err
		}
		if updated.ExternalID != nil {
			if err := s.checkExternalID(ctx, account.ID, *updated.ExternalID); err != nil {
				return nil, err
			}
		}
		updated.AccountID = account.ID
	}
	switch {
	case in.ClearCategory:
		updated.CategoryID = nil
	case in.CategoryID != nil:
		if err := s.checkCategory(ctx, userID, *in.CategoryID); err != nil {
			return nil, err
		}
		id := *in.CategoryID
		updated.CategoryID = &id
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, apperrors.ErrInvalidTransactionType
		}
		updated.Type = *in.Type
	}
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
		}
		updated.Amount = *in.Amount
	}
	if in.Description != nil {
		updated.Description = importer.TruncateDescription(strings.TrimSpace(*in.Description))
	}
	if in.Date != nil {
		updated.Date = dates.DateOf(*in.Date)
	}

	recurring := updated.IsRecurring
	if in.IsRecurring != nil {
		recurring = *in.IsRecurring
	}
	pattern := updated.RecurrencePattern
	if in.RecurrencePattern != nil {
		pattern = in.RecurrencePattern
	}
	next := in.NextRecurringDate
	if next == nil && recurring && existing.IsRecurring && in.RecurrencePattern == nil {
		next = existing.NextRecurringDate
	}
	updated.RecurrencePattern, updated.NextRecurringDate, err = recurrenceFields(recurring, pattern, next, updated.Date)
	if err != nil {
		return nil, err
	}
	updated.IsRecurring = recurring

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(&updated).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if err := s.accountService.AdjustBalance(tx, oldAccountID, oldSigned.Neg()); err != nil {
			return err
		}
		return s.accountService.AdjustBalance(tx, updated.AccountID, updated.SignedAmount())
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, userID)
	return &updated, nil
}

// GetAccountTransactions retrieves a paginated, filtered list of transactions for a specific account.
func (s *transactionService) GetAccountTransactions(ctx context.Context, userID, accountID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error) {
	// First verify the account belongs to the user
	if _, err := s.accountService.GetAccountByID(ctx, userID, accountID); err != nil {
		return nil, err
	}
	filter.AccountID = &accountID
	return s.GetUserTransactions(ctx, userID, page, filter)
}

// GetUserTransactions retrieves a paginated, filtered list of the user's transactions, newest first.
func (s *transactionService) GetUserTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error) {
	base := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	base = applyTransactionFilters(base, filter)

	result, err := pagination.FetchPage[models.Transaction](base, page, "date DESC, created_at DESC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

func applyTransactionFilters(q *gorm.DB, f TransactionFilter) *gorm.DB {
	if f.AccountID != nil {
		q = q.Where("account_id = ?", *f.AccountID)
	}
	if f.FromDate != nil {
		q = q.Where("date >= ?", dates.DateOf(*f.FromDate))
	}
	if f.ToDate != nil {
		q = q.Where("date <= ?", dates.DateOf(*f.ToDate))
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	if f.IsRecurring != nil {
		q = q.Where("is_recurring = ?", *f.IsRecurring)
	}
	return q
}

// GetTransactionByID retrieves a transaction by ID for a specific user
func (s *transactionService) GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", transactionID, userID).First(&transaction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &transaction, nil
}

// DeleteTransaction deletes a transaction and reverses its effect on the account balance.
// Deleting a recurring template stops further occurrences.
func (s *transactionService) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	transaction, err := s.GetTransactionByID(ctx, userID, transactionID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(transaction).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.accountService.AdjustBalance(tx, transaction.AccountID, transaction.SignedAmount().Neg())
	})
	if err != nil {
		return err
	}

	s.notify(ctx, userID)
	return nil
}

func (s *transactionService) notify(ctx context.Context, userID string) {
	if s.observer != nil {
		s.observer.LedgerChanged(ctx, userID)
	}
}

func (s *transactionService) checkCategory(ctx context.Context, userID, categoryID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ? AND user_id = ?", categoryID, userID).
		Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count == 0 {
		return apperrors.ErrCategoryNotFound
	}
	return nil
}

// checkExternalID rejects a feed key already used on the account, including
// by deleted rows, which still hold the unique index entry.
func (s *transactionService) checkExternalID(ctx context.Context, accountID, externalID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.Transaction{}).
		Where("account_id = ? AND external_id = ?", accountID, externalID).
		Count(&count).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if count > 0 {
		return apperrors.ErrDuplicateTransaction
	}
	return nil
}

func normalizeExternalID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}

// recurrenceFields validates the recurrence settings of a transaction dated
// date. A recurring transaction needs a known pattern; its next due date
// defaults to one step after date. Non-recurring transactions carry neither.
func recurrenceFields(recurring bool, pattern *models.RecurrencePattern, next *time.Time, date time.Time) (*models.RecurrencePattern, *time.Time, error) {
	if !recurring {
		return nil, nil, nil
	}
	if pattern == nil || !dates.ValidPattern(*pattern) {
		return nil, nil, apperrors.ErrInvalidRecurrence
	}
	p := *pattern

	if next != nil {
		d := dates.DateOf(*next)
		if d.Before(date) {
			return nil, nil, apperrors.WithMessage(apperrors.ErrInvalidRecurrence, "next recurring date must not be before the transaction date")
		}
		return &p, &d, nil
	}

	d, err := dates.Advance(date, p)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrInvalidRecurrence, err)
	}
	return &p, &d, nil
}
