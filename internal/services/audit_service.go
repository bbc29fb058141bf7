package services

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"ledgercore/internal/logger"
	"ledgercore/internal/models"
)

// Audit actions recorded for sensitive ledger operations.
const (
	AuditActionImport            = "IMPORT_TRANSACTIONS"
	AuditActionDeleteTransaction = "DELETE_TRANSACTION"
	AuditActionDeleteBudget      = "DELETE_BUDGET"
	AuditActionDeleteCategory    = "DELETE_CATEGORY"
	AuditActionRecurringRun      = "RUN_RECURRING"
	AuditActionSweep             = "SWEEP"
)

// auditService handles audit log recording.
type auditService struct {
	db *gorm.DB
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(db *gorm.DB) AuditServicer {
	return &auditService{db: db}
}

// Log records an audit event. Errors are logged but never propagate
// to avoid disrupting the main operation.
func (s *auditService) Log(ctx context.Context, userID, action, resourceType, resourceID, ipAddress string, changes map[string]interface{}) {
	var changesJSON string
	if changes != nil {
		data, err := json.Marshal(changes)
		if err != nil {
			logger.Get().Errorw("failed to marshal audit log changes", "error", err, "action", action)
			changesJSON = "{}"
		} else {
			changesJSON = string(data)
		}
	}

	entry := &models.AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ipAddress,
		Changes:      changesJSON,
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.Get().Errorw("failed to create audit log entry",
			"error", err,
			"user_id", userID,
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
		)
	}
}
