package listing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	listings map[string]Listing
	failGet  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{listings: make(map[string]Listing)}
}

func (store *memoryStore) put(listing Listing) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.listings[listing.ID] = listing
}

func (store *memoryStore) snapshot(id string) Listing {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.listings[id]
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *memoryStore) Create(_ context.Context, listing Listing) error {
	store.put(listing)
	return nil
}

func (store *memoryStore) Get(_ context.Context, id string) (Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failGet != nil {
		return Listing{}, store.failGet
	}
	listing, ok := store.listings[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	return listing, nil
}

func (store *memoryStore) List(_ context.Context, filter Filter, now time.Time) ([]Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matches []Listing
	for _, listing := range store.listings {
		if filter.Status != "" && listing.Status != filter.Status {
			continue
		}
		if filter.OwnerID != "" && listing.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Category != "" && listing.Category != filter.Category {
			continue
		}
		if filter.Location != "" && !strings.Contains(strings.ToLower(listing.Location), strings.ToLower(filter.Location)) {
			continue
		}
		if filter.MinPrice != nil && listing.Price.LessThan(*filter.MinPrice) {
			continue
		}
		if filter.MaxPrice != nil && listing.Price.GreaterThan(*filter.MaxPrice) {
			continue
		}
		matches = append(matches, listing)
	}
	sort.Slice(matches, func(left, right int) bool {
		leftBoosted, rightBoosted := matches[left].Boosted(now), matches[right].Boosted(now)
		if leftBoosted != rightBoosted {
			return leftBoosted
		}
		return matches[left].CreatedAt.After(matches[right].CreatedAt)
	})
	if filter.Offset >= len(matches) {
		return nil, nil
	}
	matches = matches[filter.Offset:]
	if len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func (store *memoryStore) SaveContent(_ context.Context, listing Listing) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.listings[listing.ID]
	if !ok {
		return ErrNotFound
	}
	listing.Status = current.Status
	listing.RenewalCount = current.RenewalCount
	listing.ExpiresAt = current.ExpiresAt
	store.listings[listing.ID] = listing
	return nil
}

func (store *memoryStore) Delete(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.listings[id]; !ok {
		return ErrNotFound
	}
	delete(store.listings, id)
	return nil
}

func (store *memoryStore) IncrementViews(_ context.Context, id string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[id]
	if !ok {
		return ErrNotFound
	}
	listing.Views++
	store.listings[id] = listing
	return nil
}

func (store *memoryStore) TransitionStatus(_ context.Context, id string, from Status, to Status, at time.Time) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[id]
	if !ok || listing.Status != from {
		return false, nil
	}
	listing.Status = to
	listing.UpdatedAt = at
	store.listings[id] = listing
	return true, nil
}

func (store *memoryStore) Renew(_ context.Context, id string, expiresAt time.Time, maxRenewals int, at time.Time) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[id]
	if !ok || listing.Status != StatusApproved || listing.RenewalCount >= maxRenewals {
		return false, nil
	}
	listing.ExpiresAt = expiresAt
	listing.RenewalCount++
	listing.UpdatedAt = at
	store.listings[id] = listing
	return true, nil
}

func (store *memoryStore) SetBoost(_ context.Context, id string, tier string, endsAt time.Time, at time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[id]
	if !ok {
		return ErrNotFound
	}
	listing.BoostTier = tier
	listing.BoostEndsAt = &endsAt
	listing.UpdatedAt = at
	store.listings[id] = listing
	return nil
}

func (store *memoryStore) LockExpirable(_ context.Context, now time.Time) ([]Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var expirable []Listing
	for _, listing := range store.listings {
		if listing.Status == StatusApproved && listing.ExpiresAt.Before(now) {
			expirable = append(expirable, listing)
		}
	}
	return expirable, nil
}

func (store *memoryStore) MarkExpired(_ context.Context, ids []string, now time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var affected int64
	for _, id := range ids {
		listing, ok := store.listings[id]
		if !ok || listing.Status != StatusApproved || !listing.ExpiresAt.Before(now) {
			continue
		}
		listing.Status = StatusExpired
		listing.UpdatedAt = now
		store.listings[id] = listing
		affected++
	}
	return affected, nil
}

func (store *memoryStore) Renewable(_ context.Context, ownerID string, before time.Time, maxRenewals int) ([]Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var renewable []Listing
	for _, listing := range store.listings {
		if listing.OwnerID == ownerID && listing.Status == StatusApproved && !listing.ExpiresAt.After(before) && listing.RenewalCount < maxRenewals {
			renewable = append(renewable, listing)
		}
	}
	return renewable, nil
}

func (store *memoryStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	counts := make(map[Status]int64)
	for _, listing := range store.listings {
		counts[listing.Status]++
	}
	return counts, nil
}
