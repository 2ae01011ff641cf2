package boost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/events"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
)

const (
	ownerIDValue = "seller-1"
	productID    = "product-1"
)

var fixedNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]ledger.Credits
	spends    []ledger.Credits
	reversals []ledger.Credits
}

func (fake *fakeLedger) Spend(_ context.Context, userID ledger.UserID, amount ledger.Credits, transactionType ledger.TransactionType, _ string, _ ledger.MetadataJSON) (ledger.Transaction, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.balances[userID.String()] < amount {
		return ledger.Transaction{}, ledger.ErrInsufficientBalance
	}
	fake.balances[userID.String()] -= amount
	fake.spends = append(fake.spends, amount)
	return ledger.Transaction{ID: "tx-spend", Type: transactionType, Amount: -amount}, nil
}

func (fake *fakeLedger) Reverse(_ context.Context, userID ledger.UserID, amount ledger.Credits, _ string, _ ledger.MetadataJSON) (ledger.Transaction, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.balances[userID.String()] += amount
	fake.reversals = append(fake.reversals, amount)
	return ledger.Transaction{ID: "tx-reverse", Type: ledger.TransactionBoostReversal, Amount: amount}, nil
}

type fakeListings struct {
	listings map[string]listing.Listing
	applyErr error
	applied  []string
}

func (fake *fakeListings) Get(_ context.Context, id string) (listing.Listing, error) {
	found, ok := fake.listings[id]
	if !ok {
		return listing.Listing{}, listing.ErrNotFound
	}
	return found, nil
}

func (fake *fakeListings) ApplyBoost(_ context.Context, id string, tier string, endsAt time.Time) (listing.Listing, error) {
	if fake.applyErr != nil {
		return listing.Listing{}, fake.applyErr
	}
	found := fake.listings[id]
	found.BoostTier = tier
	found.BoostEndsAt = &endsAt
	fake.listings[id] = found
	fake.applied = append(fake.applied, tier)
	return found, nil
}

type recordingPublisher struct {
	events []events.Event
}

func (publisher *recordingPublisher) Publish(_ context.Context, event events.Event) {
	publisher.events = append(publisher.events, event)
}

type fixture struct {
	ledger    *fakeLedger
	listings  *fakeListings
	publisher *recordingPublisher
	policy    *Policy
	userID    ledger.UserID
}

func newFixture(t *testing.T, balance ledger.Credits, status listing.Status) fixture {
	t.Helper()
	creditLedger := &fakeLedger{balances: map[string]ledger.Credits{ownerIDValue: balance}}
	listings := &fakeListings{listings: map[string]listing.Listing{
		productID: {ID: productID, OwnerID: ownerIDValue, Title: "Sofa", Status: status},
	}}
	publisher := &recordingPublisher{}
	policy, err := NewPolicy(creditLedger, listings, func() time.Time { return fixedNow }, WithPublisher(publisher))
	if err != nil {
		t.Fatalf("policy init failed: %v", err)
	}
	userID, err := ledger.NewUserID(ownerIDValue)
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return fixture{ledger: creditLedger, listings: listings, publisher: publisher, policy: policy, userID: userID}
}

func TestTierTable(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		tier     Tier
		cost     ledger.Credits
		duration time.Duration
	}{
		{tier: TierBasic, cost: 5, duration: 24 * time.Hour},
		{tier: TierPremium, cost: 15, duration: 72 * time.Hour},
		{tier: TierUrgent, cost: 30, duration: 168 * time.Hour},
	}
	for _, testCase := range testCases {
		terms, err := Lookup(testCase.tier)
		if err != nil {
			t.Fatalf("lookup %s: %v", testCase.tier, err)
		}
		if terms.Cost != testCase.cost || terms.Duration != testCase.duration {
			t.Fatalf("%s: unexpected terms %+v", testCase.tier, terms)
		}
	}
	if _, err := ParseTier("gold"); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	if tier, err := ParseTier(" Premium "); err != nil || tier != TierPremium {
		t.Fatalf("expected premium, got %s (%v)", tier, err)
	}
}

func TestBoostChargesAndAppliesTier(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, listing.StatusApproved)

	receipt, err := f.policy.Boost(context.Background(), f.userID, productID, TierBasic)
	if err != nil {
		t.Fatalf("boost basic: %v", err)
	}
	if receipt.Cost != 5 || !receipt.EndsAt.Equal(fixedNow.Add(24*time.Hour)) || receipt.TransactionID != "tx-spend" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if f.ledger.balances[ownerIDValue] != 5 {
		t.Fatalf("expected balance 5, got %d", f.ledger.balances[ownerIDValue])
	}

	_, err = f.policy.Boost(context.Background(), f.userID, productID, TierUrgent)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.ledger.balances[ownerIDValue] != 5 {
		t.Fatalf("expected balance to stay 5, got %d", f.ledger.balances[ownerIDValue])
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != events.TypeProductBoosted {
		t.Fatalf("expected one product_boosted event, got %+v", f.publisher.events)
	}
}

func TestBoostReplacesRunningBoost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, listing.StatusApproved)
	if _, err := f.policy.Boost(context.Background(), f.userID, productID, TierUrgent); err != nil {
		t.Fatalf("boost urgent: %v", err)
	}
	if _, err := f.policy.Boost(context.Background(), f.userID, productID, TierBasic); err != nil {
		t.Fatalf("boost basic: %v", err)
	}
	current := f.listings.listings[productID]
	if current.BoostTier != string(TierBasic) || !current.BoostEndsAt.Equal(fixedNow.Add(24*time.Hour)) {
		t.Fatalf("expected latest boost to replace the previous one, got %s until %v", current.BoostTier, current.BoostEndsAt)
	}
	if f.ledger.balances[ownerIDValue] != 65 {
		t.Fatalf("expected both boosts charged, balance 65, got %d", f.ledger.balances[ownerIDValue])
	}
}

func TestBoostRejections(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		status  listing.Status
		user    string
		product string
		tier    Tier
		wantErr error
	}{
		{name: "invalid tier", status: listing.StatusApproved, user: ownerIDValue, product: productID, tier: "gold", wantErr: ErrInvalidTier},
		{name: "missing listing", status: listing.StatusApproved, user: ownerIDValue, product: "missing", tier: TierBasic, wantErr: ErrNotFoundOrForbidden},
		{name: "other owner", status: listing.StatusApproved, user: "intruder", product: productID, tier: TierBasic, wantErr: ErrNotFoundOrForbidden},
		{name: "pending listing", status: listing.StatusPending, user: ownerIDValue, product: productID, tier: TierBasic, wantErr: listing.ErrInvalidState},
		{name: "expired listing", status: listing.StatusExpired, user: ownerIDValue, product: productID, tier: TierBasic, wantErr: listing.ErrInvalidState},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 50, testCase.status)
			userID, err := ledger.NewUserID(testCase.user)
			if err != nil {
				t.Fatalf("user id: %v", err)
			}
			_, err = f.policy.Boost(context.Background(), userID, testCase.product, testCase.tier)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if len(f.ledger.spends) != 0 {
				t.Fatalf("expected no charge, got %v", f.ledger.spends)
			}
		})
	}
}

func TestBoostReversesChargeWhenApplyFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 20, listing.StatusApproved)
	applyErr := errors.New("database unavailable")
	f.listings.applyErr = applyErr

	_, err := f.policy.Boost(context.Background(), f.userID, productID, TierPremium)
	if !errors.Is(err, applyErr) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if f.ledger.balances[ownerIDValue] != 20 {
		t.Fatalf("expected balance restored to 20, got %d", f.ledger.balances[ownerIDValue])
	}
	if len(f.ledger.reversals) != 1 || f.ledger.reversals[0] != 15 {
		t.Fatalf("expected one reversal of 15, got %v", f.ledger.reversals)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no boost event")
	}
}

func TestNewPolicyRequiresDependencies(t *testing.T) {
	t.Parallel()
	now := func() time.Time { return fixedNow }
	if _, err := NewPolicy(nil, &fakeListings{}, now); !errors.Is(err, ErrInvalidPolicyConfig) {
		t.Fatalf("expected ErrInvalidPolicyConfig, got %v", err)
	}
	if _, err := NewPolicy(&fakeLedger{}, nil, now); !errors.Is(err, ErrInvalidPolicyConfig) {
		t.Fatalf("expected ErrInvalidPolicyConfig, got %v", err)
	}
	if _, err := NewPolicy(&fakeLedger{}, &fakeListings{}, nil); !errors.Is(err, ErrInvalidPolicyConfig) {
		t.Fatalf("expected ErrInvalidPolicyConfig, got %v", err)
	}
}
