package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize      = 256
	defaultDeliveryTimeout = 5 * time.Second
)

// ErrBusClosed is reported to the logger when an event arrives after Close.
var ErrBusClosed = errors.New("event bus closed")

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the queue capacity.
func WithBufferSize(size int) BusOption {
	return func(bus *Bus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithDeliveryTimeout bounds each handler invocation.
func WithDeliveryTimeout(timeout time.Duration) BusOption {
	return func(bus *Bus) {
		if timeout > 0 {
			bus.deliveryTimeout = timeout
		}
	}
}

// Bus fans events out to subscribers on a single worker goroutine.
type Bus struct {
	logger          *zap.Logger
	bufferSize      int
	deliveryTimeout time.Duration

	mu       sync.RWMutex
	handlers []Handler
	closed   bool

	queue chan Event
	done  chan struct{}
}

// NewBus starts a Bus worker.
func NewBus(logger *zap.Logger, options ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &Bus{
		logger:          logger,
		bufferSize:      defaultBufferSize,
		deliveryTimeout: defaultDeliveryTimeout,
		done:            make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(bus)
		}
	}
	bus.queue = make(chan Event, bus.bufferSize)
	go bus.run()
	return bus
}

// Subscribe registers a handler for every subsequent event.
func (bus *Bus) Subscribe(handler Handler) {
	if handler == nil {
		return
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers = append(bus.handlers, handler)
}

// Publish enqueues an event. It blocks only while the queue is full and the caller's context
// is still live; dropped events are logged.
func (bus *Bus) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	if bus.closed {
		bus.logDrop(event, ErrBusClosed)
		return
	}
	select {
	case bus.queue <- event:
	case <-ctx.Done():
		bus.logDrop(event, ctx.Err())
	}
}

// Close stops accepting events and waits until queued events are delivered.
func (bus *Bus) Close() {
	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		<-bus.done
		return
	}
	bus.closed = true
	close(bus.queue)
	bus.mu.Unlock()
	<-bus.done
}

func (bus *Bus) run() {
	defer close(bus.done)
	for event := range bus.queue {
		bus.deliver(event)
	}
}

func (bus *Bus) deliver(event Event) {
	bus.mu.RLock()
	handlers := append([]Handler(nil), bus.handlers...)
	bus.mu.RUnlock()
	for _, handler := range handlers {
		ctx, cancel := context.WithTimeout(context.Background(), bus.deliveryTimeout)
		err := safeInvoke(ctx, handler, event)
		cancel()
		if err != nil {
			bus.logger.Warn("event delivery failed",
				zap.String("event_type", string(event.Type)),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
		}
	}
}

func (bus *Bus) logDrop(event Event, reason error) {
	bus.logger.Warn("event dropped",
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.Error(reason),
	)
}

func safeInvoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.New("event handler panicked")
		}
	}()
	return handler(ctx, event)
}
