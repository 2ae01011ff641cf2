package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestBusDeliversToAllSubscribersInOrder(t *testing.T) {
	t.Parallel()
	bus := NewBus(nil)
	var (
		mu       sync.Mutex
		received []string
	)
	record := func(prefix string) Handler {
		return func(_ context.Context, event Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, prefix+":"+event.UserID)
			return nil
		}
	}
	bus.Subscribe(record("a"))
	bus.Subscribe(record("b"))

	bus.Publish(context.Background(), Event{Type: TypeProductApproved, UserID: "u1"})
	bus.Publish(context.Background(), Event{Type: TypeProductExpired, UserID: "u2"})
	bus.Close()

	expected := []string{"a:u1", "b:u1", "a:u2", "b:u2"}
	if len(received) != len(expected) {
		t.Fatalf("expected %d deliveries, got %v", len(expected), received)
	}
	for index := range expected {
		if received[index] != expected[index] {
			t.Fatalf("delivery %d: expected %s, got %s", index, expected[index], received[index])
		}
	}
}

func TestBusHandlerFailureDoesNotStopDelivery(t *testing.T) {
	t.Parallel()
	bus := NewBus(nil)
	delivered := 0
	bus.Subscribe(func(context.Context, Event) error { return errors.New("boom") })
	bus.Subscribe(func(context.Context, Event) error { panic("handler bug") })
	bus.Subscribe(func(context.Context, Event) error {
		delivered++
		return nil
	})

	bus.Publish(context.Background(), Event{Type: TypeCreditsEarned, UserID: "u1"})
	bus.Publish(context.Background(), Event{Type: TypeCreditsEarned, UserID: "u1"})
	bus.Close()

	if delivered != 2 {
		t.Fatalf("expected 2 deliveries to the healthy handler, got %d", delivered)
	}
}

func TestBusPublishAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	bus := NewBus(nil, WithBufferSize(1))
	calls := 0
	bus.Subscribe(func(context.Context, Event) error {
		calls++
		return nil
	})
	bus.Close()
	bus.Publish(context.Background(), Event{Type: TypeProductSold, UserID: "u1"})
	bus.Close()
	if calls != 0 {
		t.Fatalf("expected no deliveries after close, got %d", calls)
	}
}

func TestBusStampsOccurredAt(t *testing.T) {
	t.Parallel()
	bus := NewBus(nil)
	var stamped bool
	bus.Subscribe(func(_ context.Context, event Event) error {
		stamped = !event.OccurredAt.IsZero()
		return nil
	})
	bus.Publish(context.Background(), Event{Type: TypeAdminMessage, UserID: "u1"})
	bus.Close()
	if !stamped {
		t.Fatalf("expected OccurredAt to be set")
	}
}
