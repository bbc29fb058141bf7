package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/importer"
	"ledgercore/internal/logger"
	"ledgercore/internal/models"
)

const (
	// importBatchSize is the number of rows inserted per statement.
	importBatchSize = 100
	// MaxImportErrors caps the row error messages returned by Import.
	MaxImportErrors = 20
	// previewRows is the number of data rows returned by Preview.
	previewRows = 10
)

// importService books delimited bank exports into an account.
type importService struct {
	db             *gorm.DB
	accountService AccountServicer
	ruleService    RuleServicer
	observer       LedgerObserver
	log            *zap.SugaredLogger
}

// NewImportService creates a new ImportServicer. observer may be nil.
func NewImportService(db *gorm.DB, accountService AccountServicer, ruleService RuleServicer, observer LedgerObserver) ImportServicer {
	return &importService{
		db:             db,
		accountService: accountService,
		ruleService:    ruleService,
		observer:       observer,
		log:            logger.Named("import"),
	}
}

// Preview parses rawText and reports its header, the first rows and a
// suggested column mapping without touching the ledger.
func (s *importService) Preview(_ context.Context, userID, rawText string) (*ImportPreview, error) {
	doc, err := parseImport(rawText)
	if err != nil {
		return nil, err
	}

	rows := doc.Rows
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}
	preview := &ImportPreview{
		Delimiter: string(doc.Delimiter),
		Header:    doc.Header,
		Rows:      make([][]string, 0, len(rows)),
		TotalRows: len(doc.Rows),
	}
	for _, r := range rows {
		preview.Rows = append(preview.Rows, r.Fields)
	}
	if mapping, ok := importer.SuggestMapping(doc); ok {
		preview.SuggestedMapping = &mapping
	}

	s.log.Debugw("Import preview", "user_id", userID, "rows", preview.TotalRows, "delimiter", preview.Delimiter)
	return preview, nil
}

// Import validates every row of req.RawText and books the valid ones into
// req.AccountID. Invalid rows are skipped and reported; they never abort the
// batch. All inserts and the single balance update share one database
// transaction, so a storage failure leaves the ledger untouched.
func (s *importService) Import(ctx context.Context, userID string, req ImportRequest) (*ImportResult, error) {
	if strings.TrimSpace(req.RawText) == "" {
		return nil, apperrors.ErrEmptyImport
	}
	mode := req.TypeMode
	if mode == "" {
		mode = importer.TypeModeAuto
	}
	if !mode.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "type mode must be auto, income or expense")
	}

	account, err := s.accountService.GetAccountByID(ctx, userID, req.AccountID)
	if err != nil {
		return nil, err
	}

	doc, err := parseImport(req.RawText)
	if err != nil {
		return nil, err
	}
	if len(doc.Rows) == 0 {
		return nil, apperrors.ErrEmptyImport
	}
	if err := req.Mapping.Validate(len(doc.Header)); err != nil {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidColumnMapping, err.Error())
	}

	// Rules are loaded up front so matching never queries inside the
	// write transaction.
	rules, err := s.ruleService.ListRulesForMatching(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: []string{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch := make([]models.Transaction, 0, importBatchSize)
		delta := decimal.Zero
		imported := 0

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := tx.Create(&batch).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			imported += len(batch)
			batch = batch[:0]
			return nil
		}

		for _, row := range doc.Rows {
			record, rowErr := importer.NormalizeRow(row, req.Mapping, mode)
			if rowErr != nil {
				result.Skipped++
				if len(result.Errors) < MaxImportErrors {
					result.Errors = append(result.Errors, rowErr.Error())
				}
				continue
			}

			batch = append(batch, models.Transaction{
				UserID:      userID,
				AccountID:   account.ID,
				CategoryID:  MatchRules(rules, record.Description),
				Type:        record.Type,
				Amount:      record.Amount,
				Description: record.Description,
				Date:        record.Date,
			})
			delta = delta.Add(record.SignedAmount())

			if len(batch) == importBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		result.Imported = imported
		return s.accountService.AdjustBalance(tx, account.ID, delta)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("CSV import finished",
		"user_id", userID,
		"account_id", account.ID,
		"imported", result.Imported,
		"skipped", result.Skipped)

	// Budgets are only re-evaluated when a row was booked.
	if result.Imported > 0 && s.observer != nil {
		s.observer.LedgerChanged(ctx, userID)
	}
	return result, nil
}

func parseImport(rawText string) (*importer.Document, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, apperrors.ErrEmptyImport
	}
	doc, err := importer.Parse(rawText)
	if err != nil {
		if errors.Is(err, importer.ErrEmptyFile) {
			return nil, apperrors.ErrEmptyImport
		}
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "could not parse file: "+err.Error())
	}
	return doc, nil
}
