package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ledgercore/internal/dates"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
)

// budgetService handles budget-related business logic.
type budgetService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewBudgetService creates a new BudgetServicer.
func NewBudgetService(db *gorm.DB) BudgetServicer {
	return &budgetService{db: db, now: time.Now}
}

// CreateBudget creates a new budget for a category.
func (s *budgetService) CreateBudget(
	ctx context.Context,
	userID, categoryID, name string,
	amount decimal.Decimal,
	currency string,
	period models.BudgetPeriod,
	startDate time.Time,
	endDate *time.Time,
) (*models.Budget, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "name is required")
	}
	if !amount.IsPositive() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
	}
	if !period.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid budget period")
	}
	if currency == "" {
		currency = "USD"
	}
	if startDate.IsZero() {
		startDate = s.now()
	}
	startDate = dates.DateOf(startDate)
	if endDate != nil {
		end := dates.DateOf(*endDate)
		if end.Before(startDate) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "end_date must not be before start_date")
		}
		endDate = &end
	}

	// Verify category exists and belongs to user
	var category models.Category
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", categoryID, userID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCategoryNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	budget := &models.Budget{
		UserID:     userID,
		CategoryID: categoryID,
		Name:       name,
		Amount:     amount,
		Currency:   strings.ToUpper(currency),
		Period:     period,
		StartDate:  startDate,
		EndDate:    endDate,
		IsActive:   true,
	}

	if err := s.db.WithContext(ctx).Omit("Category").Create(budget).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	budget.Category = category

	return budget, nil
}

// GetUserBudgets returns a paginated list of budgets for the user with optional filters.
func (s *budgetService) GetUserBudgets(
	ctx context.Context,
	userID string,
	page pagination.PageRequest,
	isActive *bool,
	period *models.BudgetPeriod,
) (*pagination.PageResponse[models.Budget], error) {
	base := s.db.WithContext(ctx).Model(&models.Budget{}).Where("user_id = ?", userID)
	if isActive != nil {
		base = base.Where("is_active = ?", *isActive)
	}
	if period != nil {
		base = base.Where("period = ?", *period)
	}

	result, err := pagination.FetchPage[models.Budget](base, page, "created_at ASC", "Category")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// GetBudgetByID returns a budget by ID if it belongs to the user.
func (s *budgetService) GetBudgetByID(ctx context.Context, userID, budgetID string) (*models.Budget, error) {
	var budget models.Budget
	if err := s.db.WithContext(ctx).Preload("Category").Where("id = ? AND user_id = ?", budgetID, userID).First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrBudgetNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &budget, nil
}

// UpdateBudget updates an existing budget's fields.
func (s *budgetService) UpdateBudget(ctx context.Context, userID, budgetID string, fields BudgetUpdateFields) (*models.Budget, error) {
	budget, err := s.GetBudgetByID(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if fields.Name != nil && strings.TrimSpace(*fields.Name) != "" {
		updates["name"] = strings.TrimSpace(*fields.Name)
	}
	if fields.Amount != nil {
		if !fields.Amount.IsPositive() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "amount must be greater than zero")
		}
		updates["amount"] = *fields.Amount
	}
	if fields.Period != nil {
		if !fields.Period.Valid() {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid budget period")
		}
		updates["period"] = *fields.Period
	}
	if fields.EndDate != nil {
		end := dates.DateOf(*fields.EndDate)
		if end.Before(budget.StartDate) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "end_date must not be before start_date")
		}
		updates["end_date"] = end
	}
	if fields.IsActive != nil {
		updates["is_active"] = *fields.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(budget).Omit("Category").Updates(updates).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		return s.GetBudgetByID(ctx, userID, budgetID)
	}

	return budget, nil
}

// DeleteBudget soft-deletes a budget together with its alert preference.
func (s *budgetService) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	budget, err := s.GetBudgetByID(ctx, userID, budgetID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("budget_id = ?", budget.ID).Delete(&models.AlertPreference{}).Error; err != nil {
			return err
		}
		return tx.Delete(budget).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// GetBudgetProgress calculates spending vs budget for the current period.
func (s *budgetService) GetBudgetProgress(ctx context.Context, userID, budgetID string) (*BudgetProgress, error) {
	budget, err := s.GetBudgetByID(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}

	start, end, err := dates.CurrentPeriodWindow(budget.Period, s.now())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	spent, err := periodSpend(s.db.WithContext(ctx), userID, budget.CategoryID, start, end)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return &BudgetProgress{
		BudgetID:    budget.ID,
		PeriodStart: start,
		PeriodEnd:   end,
		Budgeted:    budget.Amount,
		Spent:       spent,
		Remaining:   budget.Amount.Sub(spent),
		Percentage:  spendPercent(spent, budget.Amount),
	}, nil
}

// GetAlertPreference returns the stored preference or the defaults when the
// budget has none.
func (s *budgetService) GetAlertPreference(ctx context.Context, userID, budgetID string) (*models.AlertPreference, error) {
	if _, err := s.GetBudgetByID(ctx, userID, budgetID); err != nil {
		return nil, err
	}
	pref, err := loadAlertPreference(s.db.WithContext(ctx), userID, budgetID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return pref, nil
}

// UpsertAlertPreference replaces the budget's alert preference.
func (s *budgetService) UpsertAlertPreference(ctx context.Context, userID, budgetID string, in AlertPreferenceInput) (*models.AlertPreference, error) {
	if in.ThresholdPercent < 1 || in.ThresholdPercent > 100 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "threshold_percent must be between 1 and 100")
	}
	if _, err := s.GetBudgetByID(ctx, userID, budgetID); err != nil {
		return nil, err
	}

	var pref models.AlertPreference
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("budget_id = ?", budgetID).First(&pref).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pref = models.AlertPreference{UserID: userID, BudgetID: budgetID}
		case err != nil:
			return err
		}
		pref.ThresholdPercent = in.ThresholdPercent
		pref.BrowserAlerts = in.BrowserAlerts
		pref.EmailAlerts = in.EmailAlerts
		return tx.Save(&pref).Error
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &pref, nil
}

// loadAlertPreference reads a budget's preference, falling back to the defaults.
func loadAlertPreference(db *gorm.DB, userID, budgetID string) (*models.AlertPreference, error) {
	var pref models.AlertPreference
	err := db.Where("budget_id = ?", budgetID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		def := models.DefaultAlertPreference(userID, budgetID)
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// periodSpend sums the user's expenses in categoryID dated within [start, end).
func periodSpend(db *gorm.DB, userID, categoryID string, start, end time.Time) (decimal.Decimal, error) {
	var spent decimal.Decimal
	err := db.Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND category_id = ? AND type = ? AND date >= ? AND date < ?",
			userID, categoryID, models.TransactionTypeExpense, start, end).
		Row().Scan(&spent)
	if err != nil {
		return decimal.Zero, err
	}
	return spent.Round(2), nil
}

// spendPercent returns spent as a percentage of amount, or 0 when amount is not positive.
func spendPercent(spent, amount decimal.Decimal) float64 {
	if !amount.IsPositive() {
		return 0
	}
	pct, _ := spent.Div(amount).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
