package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ledgercore/internal/dates"
	"ledgercore/internal/events"
	"ledgercore/internal/logger"
	"ledgercore/internal/models"
	"ledgercore/internal/notify"
)

// alertService evaluates budgets against current-period spend and records
// at most one notification per budget, alert type and period.
type alertService struct {
	db        *gorm.DB
	email     EmailSender
	publisher AlertPublisher
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewAlertService creates a new AlertServicer. email and publisher may be nil.
func NewAlertService(db *gorm.DB, email EmailSender, publisher AlertPublisher) AlertServicer {
	return &alertService{
		db:        db,
		email:     email,
		publisher: publisher,
		now:       time.Now,
		log:       logger.Named("alerts"),
	}
}

// LedgerChanged evaluates the user's budgets after a committed ledger change.
// Failures are logged and never reach the caller.
func (s *alertService) LedgerChanged(ctx context.Context, userID string) {
	if _, err := s.Evaluate(ctx, userID); err != nil {
		s.log.Errorw("Budget alert evaluation failed", "user_id", userID, "error", err)
	}
}

// recipient resolves the user's email address at most once per evaluation.
type recipient struct {
	resolved bool
	address  string
}

// Evaluate checks every active budget of the user and returns the alerts it
// created. A budget that fails is logged and skipped.
func (s *alertService) Evaluate(ctx context.Context, userID string) ([]TriggeredAlert, error) {
	now := s.now()
	today := dates.DateOf(now)

	var budgets []models.Budget
	err := s.db.WithContext(ctx).Preload("Category").
		Where("user_id = ? AND is_active = ? AND start_date <= ?", userID, true, today).
		Where("(end_date IS NULL OR end_date >= ?)", today).
		Order("created_at ASC").
		Find(&budgets).Error
	if err != nil {
		return nil, err
	}

	var (
		alerts []TriggeredAlert
		to     recipient
	)
	for i := range budgets {
		alert, err := s.evaluateBudget(ctx, &budgets[i], now, &to)
		if err != nil {
			s.log.Errorw("Failed to evaluate budget", "user_id", userID, "budget_id", budgets[i].ID, "error", err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	if len(alerts) > 0 {
		s.log.Infow("Budget alerts triggered", "user_id", userID, "count", len(alerts))
	}
	return alerts, nil
}

func (s *alertService) evaluateBudget(ctx context.Context, budget *models.Budget, now time.Time, to *recipient) (*TriggeredAlert, error) {
	db := s.db.WithContext(ctx)

	pref, err := loadAlertPreference(db, budget.UserID, budget.ID)
	if err != nil {
		return nil, err
	}
	if !pref.BrowserAlerts && !pref.EmailAlerts {
		return nil, nil
	}
	if !budget.Amount.IsPositive() {
		return nil, nil
	}

	start, end, err := dates.CurrentPeriodWindow(budget.Period, now)
	if err != nil {
		return nil, err
	}
	spent, err := periodSpend(db, budget.UserID, budget.CategoryID, start, end)
	if err != nil {
		return nil, err
	}

	percent := spendPercent(spent, budget.Amount)
	var alertType models.AlertType
	switch {
	case percent >= 100:
		alertType = models.AlertTypeOverBudget
	case percent >= float64(pref.ThresholdPercent):
		alertType = models.AlertTypeThresholdWarning
	default:
		return nil, nil
	}

	categoryName := budget.Category.Name
	if categoryName == "" {
		categoryName = budget.Name
	}

	notification := models.Notification{
		UserID:    budget.UserID,
		BudgetID:  budget.ID,
		AlertType: alertType,
		PeriodKey: dates.PeriodKey(budget.Period, start),
		Message:   alertMessage(alertType, categoryName, percent),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&notification)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Already alerted for this period.
		return nil, nil
	}

	alert := &TriggeredAlert{
		Notification: notification,
		BudgetName:   budget.Name,
		CategoryName: categoryName,
		Percent:      percent,
		Spent:        spent,
		Amount:       budget.Amount,
		Currency:     budget.Currency,
		Browser:      pref.BrowserAlerts,
	}

	if pref.EmailAlerts && s.email != nil {
		s.sendEmail(ctx, alert, to)
	}
	if pref.BrowserAlerts && s.publisher != nil {
		s.publish(ctx, alert, now)
	}
	return alert, nil
}

// sendEmail delivers the alert and marks the notification emailed on success.
func (s *alertService) sendEmail(ctx context.Context, alert *TriggeredAlert, to *recipient) {
	n := &alert.Notification
	if !to.resolved {
		to.resolved = true
		var user models.User
		err := s.db.WithContext(ctx).Select("id", "email").First(&user, "id = ?", n.UserID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.log.Warnw("Alert recipient not found", "user_id", n.UserID)
		case err != nil:
			s.log.Errorw("Failed to resolve alert recipient", "user_id", n.UserID, "error", err)
		default:
			to.address = user.Email
		}
	}
	if to.address == "" {
		return
	}

	err := s.email.SendBudgetAlert(ctx, to.address, notify.BudgetAlert{
		BudgetName:   alert.BudgetName,
		CategoryName: alert.CategoryName,
		AlertType:    n.AlertType,
		Percent:      alert.Percent,
		Spent:        alert.Spent,
		Amount:       alert.Amount,
		Currency:     alert.Currency,
		Message:      n.Message,
	})
	if errors.Is(err, notify.ErrDisabled) {
		return
	}
	if err != nil {
		s.log.Warnw("Failed to send budget alert email", "notification_id", n.ID, "error", err)
		return
	}

	if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Update("emailed", true).Error; err != nil {
		s.log.Errorw("Failed to mark notification emailed", "notification_id", n.ID, "error", err)
		return
	}
	n.Emailed = true
}

func (s *alertService) publish(ctx context.Context, alert *TriggeredAlert, now time.Time) {
	n := alert.Notification
	err := s.publisher.PublishAlert(ctx, events.AlertEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		BudgetID:       n.BudgetID,
		AlertType:      n.AlertType,
		PeriodKey:      n.PeriodKey,
		Message:        n.Message,
		CategoryName:   alert.CategoryName,
		Percent:        alert.Percent,
		Spent:          alert.Spent,
		Amount:         alert.Amount,
		Currency:       alert.Currency,
		OccurredAt:     now.UTC(),
	})
	if err != nil {
		s.log.Warnw("Failed to publish budget alert", "notification_id", n.ID, "error", err)
	}
}

func alertMessage(alertType models.AlertType, categoryName string, percent float64) string {
	rounded := int64(math.Round(percent))
	if alertType == models.AlertTypeOverBudget {
		return fmt.Sprintf("You've exceeded your %s budget (%d%% spent)", categoryName, rounded)
	}
	return fmt.Sprintf("You've used %d%% of your %s budget", rounded, categoryName)
}
