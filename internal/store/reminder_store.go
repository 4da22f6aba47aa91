package store

import (
	"time"

	"gorm.io/gorm"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// GetNotificationReminder reports whether a reminder at this threshold
// has already been recorded for this user and type.
func (s *Store) GetNotificationReminder(ctx Ctx, userID uint, kind models.ReminderType, threshold *int) (bool, error) {
	var reminder models.NotificationReminder
	q := s.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, kind)
	if threshold != nil {
		q = q.Where("threshold = ?", *threshold)
	} else {
		q = q.Where("threshold IS NULL")
	}
	err := q.First(&reminder).Error
	if err == nil {
		return true, nil
	}
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, apperror.Internal(err)
}

// CreateNotificationReminder records a threshold as notified.
func (s *Store) CreateNotificationReminder(ctx Ctx, userID uint, kind models.ReminderType, threshold *int, expiresAt *time.Time) error {
	reminder := models.NotificationReminder{
		UserID:    userID,
		Type:      kind,
		Threshold: threshold,
		ExpiresAt: expiresAt,
	}
	err := s.db.WithContext(ctx).Create(&reminder).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// EvictExpiredReminders deletes NotificationReminder rows past
// expires_at, run by the ReminderSweep job.
func (s *Store) EvictExpiredReminders(ctx Ctx, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&models.NotificationReminder{})
	if res.Error != nil {
		return 0, apperror.Internal(res.Error)
	}
	return res.RowsAffected, nil
}
