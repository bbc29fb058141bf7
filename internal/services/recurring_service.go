package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ledgercore/internal/dates"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/logger"
	"ledgercore/internal/models"
)

// errTemplateAdvanced reports that another sweep moved the template's next
// due date while this one was generating; the work is rolled back.
var errTemplateAdvanced = errors.New("recurring template advanced concurrently")

// recurringService materialises due occurrences of recurring templates.
type recurringService struct {
	db             *gorm.DB
	accountService AccountServicer
	observer       LedgerObserver
	log            *zap.SugaredLogger
}

// NewRecurringService creates a new RecurringServicer. observer may be nil.
func NewRecurringService(db *gorm.DB, accountService AccountServicer, observer LedgerObserver) RecurringServicer {
	return &recurringService{
		db:             db,
		accountService: accountService,
		observer:       observer,
		log:            logger.Named("recurring"),
	}
}

// GenerateDue creates every occurrence of the user's recurring templates that
// is due on or before today, including all missed periods, and returns how
// many were created. Each template is processed in its own database
// transaction; a template that fails is logged and left for the next call.
func (s *recurringService) GenerateDue(ctx context.Context, userID string, today time.Time) (int, error) {
	today = dates.DateOf(today)

	var templates []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_recurring = ? AND recurrence_pattern IS NOT NULL AND next_recurring_date IS NOT NULL AND next_recurring_date <= ?",
			userID, true, today).
		Order("next_recurring_date ASC, id ASC").
		Find(&templates).Error
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	total := 0
	for i := range templates {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.generateForTemplate(ctx, &templates[i], today)
		switch {
		case errors.Is(err, errTemplateAdvanced):
			s.log.Debugw("Recurring template already advanced, skipping", "template_id", templates[i].ID)
		case err != nil:
			s.log.Errorw("Failed to generate recurring occurrences",
				"template_id", templates[i].ID,
				"user_id", userID,
				"error", err)
		default:
			total += n
		}
	}

	if total > 0 {
		s.log.Infow("Generated recurring transactions", "user_id", userID, "count", total)
		if s.observer != nil {
			s.observer.LedgerChanged(ctx, userID)
		}
	}
	return total, nil
}

// generateForTemplate books every due occurrence of template, applies their
// summed signed amount to the account and moves the template's next due date
// past today. The date update is a compare-and-set on the value read, so two
// concurrent sweeps cannot both book the same occurrences.
func (s *recurringService) generateForTemplate(ctx context.Context, template *models.Transaction, today time.Time) (int, error) {
	pattern := *template.RecurrencePattern
	previous := dates.DateOf(*template.NextRecurringDate)

	var occurrences []models.Transaction
	delta := decimal.Zero
	next := previous
	for !next.After(today) {
		occurrence := models.Transaction{
			UserID:      template.UserID,
			AccountID:   template.AccountID,
			CategoryID:  template.CategoryID,
			Type:        template.Type,
			Amount:      template.Amount,
			Description: template.Description,
			Date:        next,
			TemplateID:  &template.ID,
		}
		occurrences = append(occurrences, occurrence)
		delta = delta.Add(occurrence.SignedAmount())

		var err error
		if next, err = dates.Advance(next, pattern); err != nil {
			return 0, err
		}
	}
	if len(occurrences) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND next_recurring_date = ?", template.ID, previous).
			Update("next_recurring_date", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTemplateAdvanced
		}

		if err := tx.CreateInBatches(&occurrences, importBatchSize).Error; err != nil {
			return err
		}
		return s.accountService.AdjustBalance(tx, template.AccountID, delta)
	})
	if err != nil {
		return 0, err
	}
	return len(occurrences), nil
}
