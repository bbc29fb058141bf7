package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/pagination"
)

// notificationService serves the in-app notifications created by budget alerts.
type notificationService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNotificationService creates a new NotificationServicer.
func NewNotificationService(db *gorm.DB) NotificationServicer {
	return &notificationService{db: db, now: time.Now}
}

// GetUserNotifications returns the user's notifications, newest first.
func (s *notificationService) GetUserNotifications(ctx context.Context, userID string, page pagination.PageRequest, unreadOnly bool) (*pagination.PageResponse[models.Notification], error) {
	base := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		base = base.Where("is_read = ?", false)
	}
	result, err := pagination.FetchPage[models.Notification](base, page, "created_at DESC, id DESC")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return result, nil
}

// MarkRead marks one notification read. Marking an already read notification is a no-op.
func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	db := s.db.WithContext(ctx)

	var n models.Notification
	if err := db.Where("id = ? AND user_id = ?", notificationID, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotificationNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if n.IsRead {
		return &n, nil
	}

	now := s.now().UTC()
	if err := db.Model(&n).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	n.IsRead = true
	n.ReadAt = &now
	return &n, nil
}

// MarkAllRead marks every unread notification of the user read and returns how many changed.
func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": s.now().UTC()})
	if res.Error != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected, nil
}
