// Package notify keeps a per-user inbox of notifications produced by domain events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
)

var (
	ErrNotFound             = errors.New("notification not found")
	ErrInvalidInput         = errors.New("invalid notification input")
	ErrInvalidServiceConfig = errors.New("invalid notification service config")
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	maxTitleLength   = 100
	maxMessageLength = 500
)

// Notification is one inbox entry.
type Notification struct {
	ID        string
	UserID    string
	Type      events.Type
	Title     string
	Message   string
	Data      map[string]any
	Read      bool
	CreatedAt time.Time
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, notification Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, limit int, offset int) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	// MarkRead only touches notifications owned by userID.
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID string, id string) (bool, error)
}

// Pusher forwards a stored notification to the user's devices.
type Pusher interface {
	Push(ctx context.Context, notification Notification) error
}

// LogPusher writes pushes to the log instead of a delivery provider.
type LogPusher struct {
	logger *zap.Logger
}

// NewLogPusher builds a LogPusher.
func NewLogPusher(logger *zap.Logger) LogPusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogPusher{logger: logger}
}

// Push implements Pusher.
func (pusher LogPusher) Push(_ context.Context, notification Notification) error {
	pusher.logger.Debug("push notification",
		zap.String("user_id", notification.UserID),
		zap.String("type", string(notification.Type)),
		zap.String("title", notification.Title),
	)
	return nil
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPusher sets the push delivery seam.
func WithPusher(pusher Pusher) ServiceOption {
	return func(service *Service) {
		if pusher != nil {
			service.pusher = pusher
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// Service stores notifications and serves the inbox.
type Service struct {
	store  Store
	pusher Pusher
	now    func() time.Time
	logger *zap.Logger
	newID  func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		now:    now,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.pusher == nil {
		service.pusher = NewLogPusher(service.logger)
	}
	return service, nil
}

// Handle persists an event as a notification and pushes it. It is an events.Handler.
func (service *Service) Handle(ctx context.Context, event events.Event) error {
	createdAt := event.OccurredAt
	if createdAt.IsZero() {
		createdAt = service.now()
	}
	_, err := service.deliver(ctx, Notification{
		ID:        service.newID(),
		UserID:    event.UserID,
		Type:      event.Type,
		Title:     event.Title,
		Message:   event.Message,
		Data:      event.Data,
		CreatedAt: createdAt.UTC(),
	})
	return err
}

// Send delivers an administrative message to a user.
func (service *Service) Send(ctx context.Context, userID string, title string, message string, data map[string]any) (Notification, error) {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if userID == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if title == "" || len(title) > maxTitleLength {
		return Notification{}, fmt.Errorf("%w: title must be 1 to %d characters", ErrInvalidInput, maxTitleLength)
	}
	if message == "" || len(message) > maxMessageLength {
		return Notification{}, fmt.Errorf("%w: message must be 1 to %d characters", ErrInvalidInput, maxMessageLength)
	}
	return service.deliver(ctx, Notification{
		ID:        service.newID(),
		UserID:    userID,
		Type:      events.TypeAdminMessage,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: service.now().UTC(),
	})
}

// List returns the user's notifications, newest first.
func (service *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return service.store.List(ctx, userID, unreadOnly, limit, offset)
}

// UnreadCount returns how many notifications the user has not read.
func (service *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return service.store.CountUnread(ctx, userID)
}

// MarkRead marks the given notifications read. Ids owned by other users are ignored.
func (service *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return 0, fmt.Errorf("%w: at least one notification id is required", ErrInvalidInput)
	}
	return service.store.MarkRead(ctx, userID, cleaned)
}

// MarkAllRead marks every notification of the user read.
func (service *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return service.store.MarkAllRead(ctx, userID)
}

// Delete removes one of the user's notifications.
func (service *Service) Delete(ctx context.Context, userID string, id string) error {
	deleted, err := service.store.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (service *Service) deliver(ctx context.Context, notification Notification) (Notification, error) {
	if notification.UserID == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := service.store.Insert(ctx, notification); err != nil {
		return Notification{}, err
	}
	if err := service.pusher.Push(ctx, notification); err != nil {
		service.logger.Warn("push delivery failed",
			zap.String("user_id", notification.UserID),
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
	}
	return notification, nil
}
