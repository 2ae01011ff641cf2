package notify

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
)

var fixedNow = time.Date(2025, time.April, 2, 15, 0, 0, 0, time.UTC)

type memoryStore struct {
	notifications []Notification
	insertErr     error
}

func (store *memoryStore) Insert(_ context.Context, notification Notification) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	store.notifications = append(store.notifications, notification)
	return nil
}

func (store *memoryStore) List(_ context.Context, userID string, unreadOnly bool, limit int, offset int) ([]Notification, error) {
	var matches []Notification
	for _, notification := range store.notifications {
		if notification.UserID != userID || (unreadOnly && notification.Read) {
			continue
		}
		matches = append(matches, notification)
	}
	sort.SliceStable(matches, func(left, right int) bool {
		return matches[left].CreatedAt.After(matches[right].CreatedAt)
	})
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (store *memoryStore) CountUnread(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, notification := range store.notifications {
		if notification.UserID == userID && !notification.Read {
			count++
		}
	}
	return count, nil
}

func (store *memoryStore) MarkRead(_ context.Context, userID string, ids []string) (int64, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var affected int64
	for index, notification := range store.notifications {
		if _, ok := wanted[notification.ID]; ok && notification.UserID == userID && !notification.Read {
			store.notifications[index].Read = true
			affected++
		}
	}
	return affected, nil
}

func (store *memoryStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	var affected int64
	for index, notification := range store.notifications {
		if notification.UserID == userID && !notification.Read {
			store.notifications[index].Read = true
			affected++
		}
	}
	return affected, nil
}

func (store *memoryStore) Delete(_ context.Context, userID string, id string) (bool, error) {
	for index, notification := range store.notifications {
		if notification.ID == id && notification.UserID == userID {
			store.notifications = append(store.notifications[:index], store.notifications[index+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type failingPusher struct {
	calls int
}

func (pusher *failingPusher) Push(context.Context, Notification) error {
	pusher.calls++
	return errors.New("provider down")
}

func newService(t *testing.T, store Store, options ...ServiceOption) *Service {
	t.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	sequence := 0
	service.newID = func() string {
		sequence++
		return "n-" + strconv.Itoa(sequence)
	}
	return service
}

func TestHandlePersistsEvent(t *testing.T) {
	t.Parallel()
	store := &memoryStore{}
	service := newService(t, store)
	event := events.Event{
		Type:       events.TypeProductApproved,
		UserID:     "seller-1",
		Title:      "Listing approved",
		Message:    "ok",
		Data:       map[string]any{"product_id": "p-1"},
		OccurredAt: fixedNow.Add(-time.Minute),
	}
	if err := service.Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(store.notifications))
	}
	stored := store.notifications[0]
	if stored.Type != events.TypeProductApproved || stored.UserID != "seller-1" || stored.Read {
		t.Fatalf("unexpected notification: %+v", stored)
	}
	if !stored.CreatedAt.Equal(event.OccurredAt) {
		t.Fatalf("expected created at %v, got %v", event.OccurredAt, stored.CreatedAt)
	}
}

func TestHandleRejectsAnonymousEvent(t *testing.T) {
	t.Parallel()
	service := newService(t, &memoryStore{})
	if err := service.Handle(context.Background(), events.Event{Type: events.TypeProductSold}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPushFailureDoesNotFailDelivery(t *testing.T) {
	t.Parallel()
	store := &memoryStore{}
	pusher := &failingPusher{}
	service := newService(t, store, WithPusher(pusher))
	if _, err := service.Send(context.Background(), "user-1", "Hello", "Welcome aboard", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pusher.calls != 1 || len(store.notifications) != 1 {
		t.Fatalf("expected stored and pushed once, got pushes=%d stored=%d", pusher.calls, len(store.notifications))
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		userID  string
		title   string
		message string
	}{
		{name: "missing user", userID: " ", title: "t", message: "m"},
		{name: "missing title", userID: "u", title: "", message: "m"},
		{name: "missing message", userID: "u", title: "t", message: " "},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			service := newService(t, &memoryStore{})
			if _, err := service.Send(context.Background(), testCase.userID, testCase.title, testCase.message, nil); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestInboxOperations(t *testing.T) {
	t.Parallel()
	store := &memoryStore{}
	service := newService(t, store)
	ctx := context.Background()
	for _, userID := range []string{"user-1", "user-1", "user-2"} {
		if _, err := service.Send(ctx, userID, "Title", "Message", nil); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	unread, err := service.UnreadCount(ctx, "user-1")
	if err != nil || unread != 2 {
		t.Fatalf("expected 2 unread, got %d (%v)", unread, err)
	}

	otherID := store.notifications[2].ID
	affected, err := service.MarkRead(ctx, "user-1", []string{store.notifications[0].ID, otherID})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected only the owned notification to be marked, got %d", affected)
	}
	if store.notifications[2].Read {
		t.Fatalf("expected other user's notification to stay unread")
	}

	unreadOnly, err := service.List(ctx, "user-1", true, 0, 0)
	if err != nil || len(unreadOnly) != 1 {
		t.Fatalf("expected one unread notification, got %d (%v)", len(unreadOnly), err)
	}
	if _, err := service.MarkRead(ctx, "user-1", []string{" "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if affected, err := service.MarkAllRead(ctx, "user-1"); err != nil || affected != 1 {
		t.Fatalf("expected 1 marked, got %d (%v)", affected, err)
	}

	if err := service.Delete(ctx, "user-1", otherID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's notification, got %v", err)
	}
	if err := service.Delete(ctx, "user-2", otherID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		t.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewService(&memoryStore{}, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		t.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}
