package gormstore

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/notify"
)

// NotificationStore implements notify.Store using GORM.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore returns a NotificationStore backed by gorm.DB.
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (store *NotificationStore) Insert(ctx context.Context, notification notify.Notification) error {
	data, err := encodeJSON(notification.Data, defaultMetadataJSON)
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	model := Notification{
		ID:        notification.ID,
		UserID:    notification.UserID,
		Type:      string(notification.Type),
		Title:     notification.Title,
		Message:   notification.Message,
		Data:      data,
		IsRead:    notification.Read,
		CreatedAt: notification.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

func (store *NotificationStore) List(ctx context.Context, userID string, unreadOnly bool, limit int, offset int) ([]notify.Notification, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var models []Notification
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	notifications := make([]notify.Notification, 0, len(models))
	for _, model := range models {
		var data map[string]any
		if len(model.Data) > 0 {
			if err := json.Unmarshal(model.Data, &data); err != nil {
				return nil, wrapStoreError(errorSubjectNotification, errorCodeDecode, err)
			}
		}
		notifications = append(notifications, notify.Notification{
			ID:        model.ID,
			UserID:    model.UserID,
			Type:      events.Type(model.Type),
			Title:     model.Title,
			Message:   model.Message,
			Data:      data,
			Read:      model.IsRead,
			CreatedAt: model.CreatedAt.UTC(),
		})
	}
	return notifications, nil
}

func (store *NotificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectNotification, errorCodeGet, err)
	}
	return count, nil
}

func (store *NotificationStore) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND id IN ? AND is_read = ?", userID, ids, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectNotification, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectNotification, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *NotificationStore) Delete(ctx context.Context, userID string, id string) (bool, error) {
	result := store.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&Notification{})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectNotification, errorCodeDelete, result.Error)
	}
	return result.RowsAffected == 1, nil
}
