package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
	"ledgercore/internal/testutil"
)

func newTestBudgetService(db *gorm.DB, now time.Time) *budgetService {
	svc := NewBudgetService(db).(*budgetService)
	svc.now = fixedClock(now)
	return svc
}

func TestCreateBudget(t *testing.T) {
	ctx := context.Background()
	start := testutil.Date(2024, time.May, 1)

	t.Run("valid", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		budget, err := svc.CreateBudget(ctx, user.ID, cat.ID, "Groceries", testutil.Dec(t, "500"), "eur", models.BudgetPeriodMonthly, start, nil)
		testutil.AssertNoError(t, err)

		if budget.ID == "" {
			t.Fatal("expected budget ID")
		}
		if budget.Name != "Groceries" {
			t.Errorf("expected name Groceries, got %s", budget.Name)
		}
		if !budget.Amount.Equal(decimal.NewFromInt(500)) {
			t.Errorf("expected amount 500, got %s", budget.Amount)
		}
		if budget.Currency != "EUR" {
			t.Errorf("expected currency EUR, got %s", budget.Currency)
		}
		if !budget.IsActive {
			t.Error("expected budget to be active")
		}
		if budget.Category.ID != cat.ID {
			t.Error("expected category to be attached")
		}
	})

	t.Run("with_end_date", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		endDate := start.AddDate(0, 6, 0)
		budget, err := svc.CreateBudget(ctx, user.ID, cat.ID, "Half Year", testutil.Dec(t, "1000"), "", models.BudgetPeriodYearly, start, &endDate)
		testutil.AssertNoError(t, err)
		if budget.EndDate == nil || !budget.EndDate.Equal(endDate) {
			t.Fatalf("expected end date %s, got %v", endDate, budget.EndDate)
		}
		if budget.Currency != "USD" {
			t.Errorf("expected default currency USD, got %s", budget.Currency)
		}

		before := start.AddDate(0, 0, -1)
		_, err = svc.CreateBudget(ctx, user.ID, cat.ID, "Backwards", testutil.Dec(t, "10"), "", models.BudgetPeriodYearly, start, &before)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("invalid_input", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		_, err := svc.CreateBudget(ctx, user.ID, cat.ID, " ", testutil.Dec(t, "10"), "", models.BudgetPeriodMonthly, start, nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		_, err = svc.CreateBudget(ctx, user.ID, cat.ID, "Zero", decimal.Zero, "", models.BudgetPeriodMonthly, start, nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		_, err = svc.CreateBudget(ctx, user.ID, cat.ID, "Daily", testutil.Dec(t, "10"), "", models.BudgetPeriod("daily"), start, nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("wrong_user_category", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user1 := testutil.CreateTestUser(t, db)
		user2 := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user2.ID, models.CategoryTypeExpense)

		_, err := svc.CreateBudget(ctx, user1.ID, cat.ID, "Not Mine", testutil.Dec(t, "10"), "", models.BudgetPeriodMonthly, start, nil)
		testutil.AssertAppError(t, err, "CATEGORY_NOT_FOUND")

		_, err = svc.CreateBudget(ctx, user1.ID, "missing", "Missing", testutil.Dec(t, "10"), "", models.BudgetPeriodMonthly, start, nil)
		testutil.AssertAppError(t, err, "CATEGORY_NOT_FOUND")
	})
}

func TestGetUserBudgets(t *testing.T) {
	ctx := context.Background()
	page := pagination.PageRequest{Page: 1, PageSize: 20}

	t.Run("returns_user_budgets_only", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user1 := testutil.CreateTestUser(t, db)
		user2 := testutil.CreateTestUser(t, db)
		cat1 := testutil.CreateTestCategory(t, db, user1.ID, models.CategoryTypeExpense)
		cat2 := testutil.CreateTestCategory(t, db, user2.ID, models.CategoryTypeExpense)

		testutil.CreateTestBudget(t, db, user1.ID, cat1.ID)
		testutil.CreateTestBudget(t, db, user1.ID, cat1.ID)
		testutil.CreateTestBudget(t, db, user2.ID, cat2.ID)

		result, err := svc.GetUserBudgets(ctx, user1.ID, page, nil, nil)
		testutil.AssertNoError(t, err)

		if result.TotalItems != 2 {
			t.Errorf("expected 2 budgets, got %d", result.TotalItems)
		}
		if len(result.Data) > 0 && result.Data[0].Category.ID != cat1.ID {
			t.Error("expected category to be preloaded")
		}
	})

	t.Run("filters", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		testutil.CreateTestBudget(t, db, user.ID, cat.ID)
		inactive := testutil.CreateTestBudget(t, db, user.ID, cat.ID)
		if err := db.Model(inactive).Update("is_active", false).Error; err != nil {
			t.Fatalf("failed to deactivate budget: %v", err)
		}
		testutil.CreateTestBudgetWithAmount(t, db, user.ID, cat.ID, models.BudgetPeriodYearly, testutil.Dec(t, "1200"))

		active := true
		result, err := svc.GetUserBudgets(ctx, user.ID, page, &active, nil)
		testutil.AssertNoError(t, err)
		if result.TotalItems != 2 {
			t.Errorf("expected 2 active budgets, got %d", result.TotalItems)
		}

		period := models.BudgetPeriodYearly
		result, err = svc.GetUserBudgets(ctx, user.ID, page, nil, &period)
		testutil.AssertNoError(t, err)
		if result.TotalItems != 1 || result.Data[0].Period != models.BudgetPeriodYearly {
			t.Errorf("expected 1 yearly budget, got %d", result.TotalItems)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)

		for i := 0; i < 5; i++ {
			testutil.CreateTestBudget(t, db, user.ID, cat.ID)
		}

		result, err := svc.GetUserBudgets(ctx, user.ID, pagination.PageRequest{Page: 1, PageSize: 2}, nil, nil)
		testutil.AssertNoError(t, err)

		if result.TotalItems != 5 {
			t.Errorf("expected 5 total items, got %d", result.TotalItems)
		}
		if result.TotalPages != 3 {
			t.Errorf("expected 3 total pages, got %d", result.TotalPages)
		}
		if len(result.Data) != 2 {
			t.Errorf("expected 2 items on page, got %d", len(result.Data))
		}
	})
}

func TestGetBudgetByID(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewBudgetService(db)
	user1 := testutil.CreateTestUser(t, db)
	user2 := testutil.CreateTestUser(t, db)
	cat := testutil.CreateTestCategory(t, db, user1.ID, models.CategoryTypeExpense)
	budget := testutil.CreateTestBudget(t, db, user1.ID, cat.ID)

	t.Run("found", func(t *testing.T) {
		found, err := svc.GetBudgetByID(ctx, user1.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if found.ID != budget.ID {
			t.Errorf("expected budget ID %s, got %s", budget.ID, found.ID)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := svc.GetBudgetByID(ctx, user1.ID, "missing")
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})

	t.Run("wrong_user", func(t *testing.T) {
		_, err := svc.GetBudgetByID(ctx, user2.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestUpdateBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("update_fields", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		name := "New Name"
		amount := testutil.Dec(t, "750.25")
		period := models.BudgetPeriodWeekly
		inactive := false
		updated, err := svc.UpdateBudget(ctx, user.ID, budget.ID, BudgetUpdateFields{
			Name: &name, Amount: &amount, Period: &period, IsActive: &inactive,
		})
		testutil.AssertNoError(t, err)

		if updated.Name != "New Name" {
			t.Errorf("expected name 'New Name', got %s", updated.Name)
		}
		if !updated.Amount.Equal(amount) {
			t.Errorf("expected amount 750.25, got %s", updated.Amount)
		}
		if updated.Period != models.BudgetPeriodWeekly {
			t.Errorf("expected weekly, got %s", updated.Period)
		}
		if updated.IsActive {
			t.Error("expected budget to be inactive")
		}
	})

	t.Run("rejects_bad_values", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		negative := testutil.Dec(t, "-5")
		_, err := svc.UpdateBudget(ctx, user.ID, budget.ID, BudgetUpdateFields{Amount: &negative})
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		bad := models.BudgetPeriod("hourly")
		_, err = svc.UpdateBudget(ctx, user.ID, budget.ID, BudgetUpdateFields{Period: &bad})
		testutil.AssertAppError(t, err, "INVALID_INPUT")

		early := testutil.Date(1999, time.January, 1)
		_, err = svc.UpdateBudget(ctx, user.ID, budget.ID, BudgetUpdateFields{EndDate: &early})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)

		name := "Nope"
		_, err := svc.UpdateBudget(ctx, user.ID, "missing", BudgetUpdateFields{Name: &name})
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestDeleteBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)
		testutil.CreateTestAlertPreference(t, db, user.ID, budget.ID, 50, true, true)

		err := svc.DeleteBudget(ctx, user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		_, err = svc.GetBudgetByID(ctx, user.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")

		var count int64
		db.Unscoped().Model(&models.Budget{}).Where("id = ?", budget.ID).Count(&count)
		if count != 1 {
			t.Errorf("expected soft-deleted record to exist, count=%d", count)
		}
		db.Model(&models.AlertPreference{}).Where("budget_id = ?", budget.ID).Count(&count)
		if count != 0 {
			t.Errorf("expected alert preference to be removed, count=%d", count)
		}
	})

	t.Run("wrong_user", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user1 := testutil.CreateTestUser(t, db)
		user2 := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user1.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user1.ID, cat.ID)

		err := svc.DeleteBudget(ctx, user2.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestGetBudgetProgress(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 15, 14, 30, 0, 0, time.UTC)

	t.Run("no_spending", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, now)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		progress, err := svc.GetBudgetProgress(ctx, user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		if !progress.Spent.IsZero() {
			t.Errorf("expected spent 0, got %s", progress.Spent)
		}
		if !progress.Remaining.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected remaining 100, got %s", progress.Remaining)
		}
		if progress.Percentage != 0 {
			t.Errorf("expected percentage 0, got %f", progress.Percentage)
		}
		if !progress.PeriodStart.Equal(testutil.Date(2024, time.May, 1)) || !progress.PeriodEnd.Equal(testutil.Date(2024, time.June, 1)) {
			t.Errorf("unexpected window %s - %s", progress.PeriodStart, progress.PeriodEnd)
		}
	})

	t.Run("counts_only_current_period_expenses", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, now)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		other := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		account := testutil.CreateTestAccount(t, db, user.ID)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		expense := models.TransactionTypeExpense
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &cat.ID, expense, testutil.Dec(t, "30.10"), testutil.Date(2024, time.May, 1))
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &cat.ID, expense, testutil.Dec(t, "20.20"), testutil.Date(2024, time.May, 31))
		// Outside the window, another category, or income.
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &cat.ID, expense, testutil.Dec(t, "99"), testutil.Date(2024, time.June, 1))
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &cat.ID, expense, testutil.Dec(t, "99"), testutil.Date(2024, time.April, 30))
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &other.ID, expense, testutil.Dec(t, "99"), testutil.Date(2024, time.May, 10))
		testutil.CreateTestTransactionOn(t, db, user.ID, account.ID, &cat.ID, models.TransactionTypeIncome, testutil.Dec(t, "99"), testutil.Date(2024, time.May, 10))

		progress, err := svc.GetBudgetProgress(ctx, user.ID, budget.ID)
		testutil.AssertNoError(t, err)

		if !progress.Spent.Equal(testutil.Dec(t, "50.30")) {
			t.Errorf("expected spent 50.30, got %s", progress.Spent)
		}
		if !progress.Remaining.Equal(testutil.Dec(t, "49.70")) {
			t.Errorf("expected remaining 49.70, got %s", progress.Remaining)
		}
		if progress.Percentage < 50.29 || progress.Percentage > 50.31 {
			t.Errorf("expected ~50.3%%, got %f", progress.Percentage)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := newTestBudgetService(db, now)
		user := testutil.CreateTestUser(t, db)

		_, err := svc.GetBudgetProgress(ctx, user.ID, "missing")
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}

func TestAlertPreferences(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults_when_unset", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		pref, err := svc.GetAlertPreference(ctx, user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if pref.ThresholdPercent != 80 || !pref.BrowserAlerts || pref.EmailAlerts {
			t.Errorf("expected defaults 80/browser/no email, got %+v", pref)
		}
	})

	t.Run("upsert_creates_then_updates", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		first, err := svc.UpsertAlertPreference(ctx, user.ID, budget.ID, AlertPreferenceInput{ThresholdPercent: 60, BrowserAlerts: false, EmailAlerts: true})
		testutil.AssertNoError(t, err)

		second, err := svc.UpsertAlertPreference(ctx, user.ID, budget.ID, AlertPreferenceInput{ThresholdPercent: 90, BrowserAlerts: false, EmailAlerts: false})
		testutil.AssertNoError(t, err)
		if first.ID != second.ID {
			t.Error("expected the same preference row to be updated")
		}

		pref, err := svc.GetAlertPreference(ctx, user.ID, budget.ID)
		testutil.AssertNoError(t, err)
		if pref.ThresholdPercent != 90 || pref.BrowserAlerts || pref.EmailAlerts {
			t.Errorf("expected stored 90/false/false, got %+v", pref)
		}
	})

	t.Run("rejects_threshold_out_of_range", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		user := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, user.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, user.ID, cat.ID)

		for _, threshold := range []int{0, 101, -5} {
			_, err := svc.UpsertAlertPreference(ctx, user.ID, budget.ID, AlertPreferenceInput{ThresholdPercent: threshold})
			testutil.AssertAppError(t, err, "INVALID_INPUT")
		}
	})

	t.Run("foreign_budget", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewBudgetService(db)
		owner := testutil.CreateTestUser(t, db)
		other := testutil.CreateTestUser(t, db)
		cat := testutil.CreateTestCategory(t, db, owner.ID, models.CategoryTypeExpense)
		budget := testutil.CreateTestBudget(t, db, owner.ID, cat.ID)

		_, err := svc.GetAlertPreference(ctx, other.ID, budget.ID)
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
		_, err = svc.UpsertAlertPreference(ctx, other.ID, budget.ID, AlertPreferenceInput{ThresholdPercent: 50})
		testutil.AssertAppError(t, err, "BUDGET_NOT_FOUND")
	})
}
