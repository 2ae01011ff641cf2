// Package moderation lets administrators approve or reject pending listings.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
)

var (
	ErrInvalidAction        = errors.New("invalid moderation action")
	ErrReasonRequired       = errors.New("rejection reason is required")
	ErrInvalidGatewayConfig = errors.New("invalid moderation gateway config")
)

const (
	approvedTitle   = "Listing approved"
	rejectedTitle   = "Listing rejected"
	maxReasonLength = 500
)

// Listings is the part of the listing service moderation needs.
type Listings interface {
	Moderate(ctx context.Context, id string, action listing.Action) (listing.Listing, error)
	Pending(ctx context.Context, limit int, offset int) ([]listing.Listing, error)
}

// Request is a single moderation decision.
type Request struct {
	ProductID string
	Action    string
	Reason    string
	AdminID   string
}

// Decision is the outcome of a successful moderation.
type Decision struct {
	Listing listing.Listing
	Action  listing.Action
	Reason  string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithPublisher wires the sink for moderation notifications.
func WithPublisher(publisher events.Publisher) GatewayOption {
	return func(gateway *Gateway) {
		if publisher != nil {
			gateway.publisher = publisher
		}
	}
}

// WithLogger sets the audit logger.
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(gateway *Gateway) {
		if logger != nil {
			gateway.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) GatewayOption {
	return func(gateway *Gateway) {
		if now != nil {
			gateway.now = now
		}
	}
}

// Gateway validates moderation requests and notifies listing owners.
type Gateway struct {
	listings  Listings
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewGateway wires a Gateway.
func NewGateway(listings Listings, options ...GatewayOption) (*Gateway, error) {
	if listings == nil {
		return nil, fmt.Errorf("%w: listings dependency is nil", ErrInvalidGatewayConfig)
	}
	gateway := &Gateway{
		listings:  listings,
		publisher: events.Discard{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(gateway)
		}
	}
	return gateway, nil
}

// ParseAction accepts "approve" or "reject" in any casing.
func ParseAction(raw string) (listing.Action, error) {
	action := listing.Action(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case listing.ActionApprove, listing.ActionReject:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// Moderate applies an approve or reject decision to a PENDING listing.
func (gateway *Gateway) Moderate(ctx context.Context, request Request) (Decision, error) {
	action, err := ParseAction(request.Action)
	if err != nil {
		return Decision{}, err
	}
	productID := strings.TrimSpace(request.ProductID)
	if productID == "" {
		return Decision{}, fmt.Errorf("%w: product id is required", listing.ErrInvalidInput)
	}
	reason := strings.TrimSpace(request.Reason)
	if action == listing.ActionReject && reason == "" {
		return Decision{}, ErrReasonRequired
	}
	if len(reason) > maxReasonLength {
		return Decision{}, fmt.Errorf("%w: reason exceeds %d characters", listing.ErrInvalidInput, maxReasonLength)
	}

	moderated, err := gateway.listings.Moderate(ctx, productID, action)
	if err != nil {
		gateway.logger.Info("moderation refused",
			zap.String("admin_id", request.AdminID),
			zap.String("product_id", productID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return Decision{}, err
	}
	gateway.logger.Info("listing moderated",
		zap.String("admin_id", request.AdminID),
		zap.String("product_id", productID),
		zap.String("action", string(action)),
		zap.String("status", string(moderated.Status)),
		zap.String("reason", reason),
	)

	event := events.Event{
		UserID:     moderated.OwnerID,
		Data:       map[string]any{"product_id": moderated.ID},
		OccurredAt: gateway.now().UTC(),
	}
	if action == listing.ActionApprove {
		event.Type = events.TypeProductApproved
		event.Title = approvedTitle
		event.Message = fmt.Sprintf("Your listing %q has been approved and is now visible.", moderated.Title)
	} else {
		event.Type = events.TypeProductRejected
		event.Title = rejectedTitle
		event.Message = fmt.Sprintf("Your listing %q has been rejected. Reason: %s", moderated.Title, reason)
		event.Data["reason"] = reason
	}
	gateway.publisher.Publish(ctx, event)

	return Decision{Listing: moderated, Action: action, Reason: reason}, nil
}

// Pending returns the moderation queue.
func (gateway *Gateway) Pending(ctx context.Context, limit int, offset int) ([]listing.Listing, error) {
	return gateway.listings.Pending(ctx, limit, offset)
}
