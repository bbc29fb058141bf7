package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ledgercore/internal/models"
	"ledgercore/internal/notify"
	"ledgercore/internal/testutil"
)

var alertNow = time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)

type alertFixture struct {
	db       *gorm.DB
	svc      *alertService
	email    *fakeEmailSender
	events   *fakePublisher
	user     *models.User
	account  *models.Account
	category *models.Category
	budget   *models.Budget
}

func setupAlertFixture(t *testing.T) (*alertFixture, func()) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	email := &fakeEmailSender{}
	publisher := &fakePublisher{}
	svc := NewAlertService(db, email, publisher).(*alertService)
	svc.now = fixedClock(alertNow)

	user := testutil.CreateTestUserWithEmail(t, db, "alerts@example.com")
	cat := testutil.CreateTestCategoryNamed(t, db, user.ID, models.CategoryTypeExpense, "Groceries")
	f := &alertFixture{
		db:       db,
		svc:      svc,
		email:    email,
		events:   publisher,
		user:     user,
		account:  testutil.CreateTestAccount(t, db, user.ID),
		category: cat,
		budget:   testutil.CreateTestBudgetWithAmount(t, db, user.ID, cat.ID, models.BudgetPeriodMonthly, decimal.NewFromInt(100)),
	}
	return f, func() { testutil.TeardownTestDB(t, db) }
}

func (f *alertFixture) spend(t *testing.T, amount string, day int) {
	t.Helper()
	testutil.CreateTestTransactionOn(t, f.db, f.user.ID, f.account.ID, &f.category.ID,
		models.TransactionTypeExpense, testutil.Dec(t, amount), testutil.Date(2024, time.May, day))
}

func (f *alertFixture) notifications(t *testing.T) []models.Notification {
	t.Helper()
	var out []models.Notification
	if err := f.db.Order("created_at ASC").Find(&out).Error; err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold_warning_deduplicated", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.spend(t, "85", 3)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		a := alerts[0]
		if a.Notification.AlertType != models.AlertTypeThresholdWarning {
			t.Errorf("expected threshold_warning, got %s", a.Notification.AlertType)
		}
		if a.Notification.PeriodKey != "monthly:2024-05-01" {
			t.Errorf("unexpected period key %s", a.Notification.PeriodKey)
		}
		if !strings.Contains(a.Notification.Message, "Groceries") || !strings.Contains(a.Notification.Message, "85%") {
			t.Errorf("message should name category and percent: %q", a.Notification.Message)
		}
		if !a.Browser || a.CategoryName != "Groceries" || !a.Spent.Equal(decimal.NewFromInt(85)) {
			t.Errorf("unexpected alert details %+v", a)
		}

		again, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(again) != 0 {
			t.Errorf("expected no new alerts on re-evaluation, got %d", len(again))
		}
		if n := len(f.notifications(t)); n != 1 {
			t.Errorf("expected exactly 1 notification, got %d", n)
		}
		if len(f.events.events) != 1 || f.events.events[0].RoutingKey() != "budget.alert.threshold_warning" {
			t.Errorf("expected one published threshold event, got %+v", f.events.events)
		}
	})

	t.Run("over_budget_takes_precedence", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.spend(t, "70", 2)
		f.spend(t, "50", 18)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 || alerts[0].Notification.AlertType != models.AlertTypeOverBudget {
			t.Fatalf("expected a single over_budget alert, got %+v", alerts)
		}
		if !strings.Contains(alerts[0].Notification.Message, "120%") {
			t.Errorf("expected rounded percent in message, got %q", alerts[0].Notification.Message)
		}
		for _, n := range f.notifications(t) {
			if n.AlertType == models.AlertTypeThresholdWarning {
				t.Error("threshold_warning must not be created alongside over_budget")
			}
		}
	})

	t.Run("warning_then_over_budget", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.spend(t, "90", 2)
		_, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)

		f.spend(t, "15", 4)
		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 || alerts[0].Notification.AlertType != models.AlertTypeOverBudget {
			t.Fatalf("expected over_budget after crossing 100%%, got %+v", alerts)
		}
		if n := len(f.notifications(t)); n != 2 {
			t.Errorf("expected 2 notifications, got %d", n)
		}
	})

	t.Run("below_threshold", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.spend(t, "79.99", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 0 {
			t.Errorf("expected no alerts, got %d", len(alerts))
		}
	})

	t.Run("custom_threshold", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		testutil.CreateTestAlertPreference(t, f.db, f.user.ID, f.budget.ID, 50, true, false)
		f.spend(t, "55", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 {
			t.Errorf("expected alert at 55%% with threshold 50, got %d", len(alerts))
		}
	})

	t.Run("no_channels_enabled", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		testutil.CreateTestAlertPreference(t, f.db, f.user.ID, f.budget.ID, 50, false, false)
		f.spend(t, "150", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 0 || len(f.notifications(t)) != 0 {
			t.Error("expected no alerts when every channel is off")
		}
	})

	t.Run("previous_period_spend_ignored", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		testutil.CreateTestTransactionOn(t, f.db, f.user.ID, f.account.ID, &f.category.ID,
			models.TransactionTypeExpense, decimal.NewFromInt(500), testutil.Date(2024, time.April, 30))

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 0 {
			t.Errorf("expected no alerts, got %d", len(alerts))
		}
	})

	t.Run("inactive_budget_skipped", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.db.Model(f.budget).Update("is_active", false)
		f.spend(t, "150", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 0 {
			t.Errorf("expected no alerts for inactive budget, got %d", len(alerts))
		}
	})

	t.Run("email_sent_and_recorded", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		testutil.CreateTestAlertPreference(t, f.db, f.user.ID, f.budget.ID, 80, false, true)
		f.spend(t, "100", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		if len(f.email.sent) != 1 || f.email.to[0] != "alerts@example.com" {
			t.Fatalf("expected one email to the user, got %v", f.email.to)
		}
		if f.email.sent[0].AlertType != models.AlertTypeOverBudget {
			t.Errorf("expected over_budget email, got %s", f.email.sent[0].AlertType)
		}
		if !alerts[0].Notification.Emailed || !f.notifications(t)[0].Emailed {
			t.Error("expected notification to be marked emailed")
		}
		if len(f.events.events) != 0 {
			t.Error("expected no browser event when browser alerts are off")
		}
	})

	t.Run("email_failure_is_not_fatal", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.email.err = errors.New("smtp down")
		testutil.CreateTestAlertPreference(t, f.db, f.user.ID, f.budget.ID, 80, true, true)
		f.spend(t, "90", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 {
			t.Fatalf("expected alert despite email failure, got %d", len(alerts))
		}
		if f.notifications(t)[0].Emailed {
			t.Error("emailed must stay false when delivery fails")
		}
	})

	t.Run("disabled_email_not_recorded", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.svc.email = notify.LogSender{}
		testutil.CreateTestAlertPreference(t, f.db, f.user.ID, f.budget.ID, 80, false, true)
		f.spend(t, "100", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		if alerts[0].Notification.Emailed || f.notifications(t)[0].Emailed {
			t.Error("emailed must stay false when no mail server is configured")
		}
	})

	t.Run("failing_budget_isolated", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		broken := testutil.CreateTestBudgetWithAmount(t, f.db, f.user.ID, f.category.ID, models.BudgetPeriodMonthly, decimal.NewFromInt(10))
		f.db.Model(broken).Update("period", "fortnightly")
		f.spend(t, "95", 2)

		alerts, err := f.svc.Evaluate(ctx, f.user.ID)
		testutil.AssertNoError(t, err)
		if len(alerts) != 1 || alerts[0].Notification.BudgetID != f.budget.ID {
			t.Errorf("expected the healthy budget to alert, got %+v", alerts)
		}
	})

	t.Run("ledger_changed_evaluates", func(t *testing.T) {
		f, teardown := setupAlertFixture(t)
		defer teardown()
		f.spend(t, "100", 2)

		f.svc.LedgerChanged(ctx, f.user.ID)
		if n := len(f.notifications(t)); n != 1 {
			t.Errorf("expected LedgerChanged to create 1 notification, got %d", n)
		}
	})
}

func TestAlertMessage(t *testing.T) {
	if got := alertMessage(models.AlertTypeThresholdWarning, "Food", 84.6); got != "You've used 85% of your Food budget" {
		t.Errorf("unexpected warning message %q", got)
	}
	if got := alertMessage(models.AlertTypeOverBudget, "Food", 120.2); got != "You've exceeded your Food budget (120% spent)" {
		t.Errorf("unexpected over budget message %q", got)
	}
}
