// Package events carries domain side effects out of committed operations.
//
// Domain services publish an Event after their database transaction commits. Delivery to
// subscribers happens on a separate goroutine, so a failing subscriber can never block or
// roll back the mutation that produced the event.
package events

import (
	"context"
	"time"
)

// Type names a domain event. Values double as notification types.
type Type string

const (
	TypeCreditsPurchased Type = "credits_purchased"
	TypeCreditsEarned    Type = "credits_earned"
	TypeCreditsRefunded  Type = "credits_refunded"
	TypeProductBoosted   Type = "product_boosted"
	TypeProductApproved  Type = "product_approved"
	TypeProductRejected  Type = "product_rejected"
	TypeProductExpired   Type = "product_expired"
	TypeProductSold      Type = "product_sold"
	TypeAdminMessage     Type = "admin_message"
)

// Event is addressed to a single user.
type Event struct {
	Type       Type
	UserID     string
	Title      string
	Message    string
	Data       map[string]any
	OccurredAt time.Time
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Handler consumes a delivered event.
type Handler func(ctx context.Context, event Event) error

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) {}
