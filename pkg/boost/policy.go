// Package boost charges credits for time-limited promotion of approved listings.
package boost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
)

var (
	ErrInvalidTier         = errors.New("invalid boost tier")
	ErrNotFoundOrForbidden = errors.New("listing not found or not owned by user")
	ErrInvalidPolicyConfig = errors.New("invalid boost policy config")
)

// Tier names a boost level.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
	TierUrgent  Tier = "urgent"
)

// TierTerms is the price and duration of a tier.
type TierTerms struct {
	Tier     Tier
	Cost     ledger.Credits
	Duration time.Duration
}

var tierTable = map[Tier]TierTerms{
	TierBasic:   {Tier: TierBasic, Cost: 5, Duration: 24 * time.Hour},
	TierPremium: {Tier: TierPremium, Cost: 15, Duration: 3 * 24 * time.Hour},
	TierUrgent:  {Tier: TierUrgent, Cost: 30, Duration: 7 * 24 * time.Hour},
}

// ParseTier validates a tier name.
func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierTable[tier]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
	return tier, nil
}

// Lookup returns the terms of a tier.
func Lookup(tier Tier) (TierTerms, error) {
	terms, ok := tierTable[tier]
	if !ok {
		return TierTerms{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return terms, nil
}

// Tiers lists every tier from cheapest to most expensive.
func Tiers() []TierTerms {
	return []TierTerms{tierTable[TierBasic], tierTable[TierPremium], tierTable[TierUrgent]}
}

// Ledger is the part of the credit ledger a boost needs.
type Ledger interface {
	Spend(ctx context.Context, userID ledger.UserID, amount ledger.Credits, transactionType ledger.TransactionType, description string, metadata ledger.MetadataJSON) (ledger.Transaction, error)
	Reverse(ctx context.Context, userID ledger.UserID, amount ledger.Credits, reason string, metadata ledger.MetadataJSON) (ledger.Transaction, error)
}

// Listings is the part of the listing service a boost needs.
type Listings interface {
	Get(ctx context.Context, id string) (listing.Listing, error)
	ApplyBoost(ctx context.Context, id string, tier string, endsAt time.Time) (listing.Listing, error)
}

// Receipt describes an applied boost.
type Receipt struct {
	ProductID     string
	Tier          Tier
	Cost          ledger.Credits
	EndsAt        time.Time
	TransactionID string
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithPublisher wires the sink for boost notifications.
func WithPublisher(publisher events.Publisher) PolicyOption {
	return func(policy *Policy) {
		if publisher != nil {
			policy.publisher = publisher
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) PolicyOption {
	return func(policy *Policy) {
		if logger != nil {
			policy.logger = logger
		}
	}
}

// Policy charges for and applies boosts.
type Policy struct {
	ledger    Ledger
	listings  Listings
	now       func() time.Time
	publisher events.Publisher
	logger    *zap.Logger
}

// NewPolicy wires a Policy.
func NewPolicy(creditLedger Ledger, listings Listings, now func() time.Time, options ...PolicyOption) (*Policy, error) {
	if creditLedger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidPolicyConfig)
	}
	if listings == nil {
		return nil, fmt.Errorf("%w: listings dependency is nil", ErrInvalidPolicyConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidPolicyConfig)
	}
	policy := &Policy{
		ledger:    creditLedger,
		listings:  listings,
		now:       now,
		publisher: events.Discard{},
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(policy)
		}
	}
	return policy, nil
}

// Boost charges the tier cost and promotes an APPROVED listing owned by userID. A new boost
// replaces any boost still running. When the listing cannot be updated after the charge the
// credits are given back.
func (policy *Policy) Boost(ctx context.Context, userID ledger.UserID, productID string, tier Tier) (Receipt, error) {
	terms, err := Lookup(tier)
	if err != nil {
		return Receipt{}, err
	}
	target, err := policy.listings.Get(ctx, productID)
	if errors.Is(err, listing.ErrNotFound) {
		return Receipt{}, ErrNotFoundOrForbidden
	}
	if err != nil {
		return Receipt{}, err
	}
	if target.OwnerID != userID.String() {
		return Receipt{}, ErrNotFoundOrForbidden
	}
	if target.Status != listing.StatusApproved {
		return Receipt{}, fmt.Errorf("%w: only approved listings can be boosted", listing.ErrInvalidState)
	}

	metadata, err := ledger.MetadataFrom(map[string]any{"product_id": productID, "tier": string(terms.Tier)})
	if err != nil {
		return Receipt{}, err
	}
	description := fmt.Sprintf("Boost %s for %q", terms.Tier, target.Title)
	transaction, err := policy.ledger.Spend(ctx, userID, terms.Cost, ledger.TransactionBoost, description, metadata)
	if err != nil {
		return Receipt{}, err
	}

	endsAt := policy.now().UTC().Add(terms.Duration)
	if _, applyErr := policy.listings.ApplyBoost(ctx, productID, string(terms.Tier), endsAt); applyErr != nil {
		if _, reverseErr := policy.ledger.Reverse(ctx, userID, terms.Cost, "boost could not be applied", metadata); reverseErr != nil {
			policy.logger.Error("boost reversal failed",
				zap.String("user_id", userID.String()),
				zap.String("product_id", productID),
				zap.Int64("amount", terms.Cost.Int64()),
				zap.Error(reverseErr),
			)
			return Receipt{}, errors.Join(applyErr, reverseErr)
		}
		return Receipt{}, applyErr
	}

	policy.publisher.Publish(ctx, events.Event{
		Type:    events.TypeProductBoosted,
		UserID:  userID.String(),
		Title:   "Listing boosted",
		Message: fmt.Sprintf("Your listing %q is boosted (%s) until %s.", target.Title, terms.Tier, endsAt.Format(time.RFC3339)),
		Data: map[string]any{
			"product_id": productID,
			"tier":       string(terms.Tier),
			"cost":       terms.Cost.Int64(),
			"ends_at":    endsAt.Format(time.RFC3339),
		},
		OccurredAt: policy.now().UTC(),
	})
	return Receipt{
		ProductID:     productID,
		Tier:          terms.Tier,
		Cost:          terms.Cost,
		EndsAt:        endsAt,
		TransactionID: transaction.ID,
	}, nil
}
