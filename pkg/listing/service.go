package listing

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

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithPublisher wires the sink for post-commit listing notifications.
func WithPublisher(publisher events.Publisher) ServiceOption {
	return func(service *Service) {
		if publisher != nil {
			service.publisher = publisher
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

// WithIDGenerator overrides listing id generation.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// Service applies lifecycle rules over a Store.
type Service struct {
	store     Store
	now       func() time.Time
	publisher events.Publisher
	logger    *zap.Logger
	newID     func() string
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
		store:     store,
		now:       now,
		publisher: events.Discard{},
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Create stores a new PENDING listing that expires one lifetime from now.
func (service *Service) Create(ctx context.Context, ownerID string, draft Draft) (Listing, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Listing{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if err := draft.Validate(); err != nil {
		return Listing{}, err
	}
	now := service.clock()
	listing := Listing{
		ID:          service.newID(),
		OwnerID:     ownerID,
		Title:       draft.Title,
		Description: draft.Description,
		Price:       draft.Price,
		Images:      append([]string{}, draft.Images...),
		Location:    draft.Location,
		Category:    draft.Category,
		Condition:   draft.Condition,
		Status:      StatusPending,
		ExpiresAt:   now.Add(ListingLifetime),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := service.store.Create(ctx, listing); err != nil {
		return Listing{}, err
	}
	return listing, nil
}

// Get returns a listing by id.
func (service *Service) Get(ctx context.Context, id string) (Listing, error) {
	return service.store.Get(ctx, id)
}

// View returns a listing and counts the view.
func (service *Service) View(ctx context.Context, id string) (Listing, error) {
	listing, err := service.store.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if err := service.store.IncrementViews(ctx, id); err != nil {
		return Listing{}, err
	}
	listing.Views++
	return listing, nil
}

// List searches listings. Without a status or owner only APPROVED listings are returned.
func (service *Service) List(ctx context.Context, filter Filter) ([]Listing, error) {
	normalized := filter.normalized()
	if normalized.MinPrice != nil && normalized.MaxPrice != nil && normalized.MinPrice.GreaterThan(*normalized.MaxPrice) {
		return nil, fmt.Errorf("%w: min price exceeds max price", ErrInvalidInput)
	}
	return service.store.List(ctx, normalized, service.clock())
}

// Pending returns the moderation queue.
func (service *Service) Pending(ctx context.Context, limit int, offset int) ([]Listing, error) {
	return service.List(ctx, Filter{Status: StatusPending, Limit: limit, Offset: offset})
}

// Stats reports how many listings sit in each status. Every status is present.
func (service *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := service.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: make(map[Status]int64, len(Statuses()))}
	for _, status := range Statuses() {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

// Update edits listing content on behalf of its owner. Status is unaffected.
func (service *Service) Update(ctx context.Context, id string, ownerID string, update Update) (Listing, error) {
	listing, err := service.owned(ctx, id, ownerID)
	if err != nil {
		return Listing{}, err
	}
	if err := update.apply(&listing); err != nil {
		return Listing{}, err
	}
	listing.UpdatedAt = service.clock()
	if err := service.store.SaveContent(ctx, listing); err != nil {
		return Listing{}, err
	}
	return listing, nil
}

// Delete removes a listing on behalf of its owner and returns what was removed.
func (service *Service) Delete(ctx context.Context, id string, ownerID string) (Listing, error) {
	listing, err := service.owned(ctx, id, ownerID)
	if err != nil {
		return Listing{}, err
	}
	if err := service.store.Delete(ctx, id); err != nil {
		return Listing{}, err
	}
	return listing, nil
}

// Moderate approves or rejects a PENDING listing. Concurrent moderators race on a guarded
// update; the loser gets ErrAlreadyModerated.
func (service *Service) Moderate(ctx context.Context, id string, action Action) (Listing, error) {
	if action != ActionApprove && action != ActionReject {
		return Listing{}, fmt.Errorf("%w: unknown moderation action %q", ErrInvalidInput, action)
	}
	listing, err := service.store.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if listing.Status != StatusPending {
		return Listing{}, ErrAlreadyModerated
	}
	next, err := Transition(listing.Status, action)
	if err != nil {
		return Listing{}, err
	}
	now := service.clock()
	moved, err := service.store.TransitionStatus(ctx, id, StatusPending, next, now)
	if err != nil {
		return Listing{}, err
	}
	if !moved {
		return Listing{}, ErrAlreadyModerated
	}
	listing.Status = next
	listing.UpdatedAt = now
	return listing, nil
}

// Renew pushes the expiration of an APPROVED listing one lifetime past now.
func (service *Service) Renew(ctx context.Context, id string, ownerID string) (Listing, error) {
	listing, err := service.owned(ctx, id, ownerID)
	if err != nil {
		return Listing{}, err
	}
	if err := checkRenewable(listing); err != nil {
		return Listing{}, err
	}
	now := service.clock()
	expiresAt := now.Add(ListingLifetime)
	renewed, err := service.store.Renew(ctx, id, expiresAt, MaxRenewals, now)
	if err != nil {
		return Listing{}, err
	}
	if !renewed {
		latest, err := service.store.Get(ctx, id)
		if err != nil {
			return Listing{}, err
		}
		if err := checkRenewable(latest); err != nil {
			return Listing{}, err
		}
		return Listing{}, fmt.Errorf("%w: concurrent renewal", ErrInvalidState)
	}
	listing.ExpiresAt = expiresAt
	listing.RenewalCount++
	listing.UpdatedAt = now
	return listing, nil
}

// MarkSold closes an APPROVED listing as sold.
func (service *Service) MarkSold(ctx context.Context, id string, ownerID string) (Listing, error) {
	listing, err := service.owned(ctx, id, ownerID)
	if err != nil {
		return Listing{}, err
	}
	next, err := Transition(listing.Status, ActionSell)
	if err != nil {
		return Listing{}, err
	}
	now := service.clock()
	moved, err := service.store.TransitionStatus(ctx, id, listing.Status, next, now)
	if err != nil {
		return Listing{}, err
	}
	if !moved {
		return Listing{}, fmt.Errorf("%w: listing changed concurrently", ErrInvalidState)
	}
	listing.Status = next
	listing.UpdatedAt = now
	service.publisher.Publish(ctx, events.Event{
		Type:       events.TypeProductSold,
		UserID:     listing.OwnerID,
		Title:      "Listing sold",
		Message:    fmt.Sprintf("Your listing %q is marked as sold.", listing.Title),
		Data:       map[string]any{"product_id": listing.ID},
		OccurredAt: now,
	})
	return listing, nil
}

// Renewable lists the owner's APPROVED listings that expire within the renewal window and
// still have renewals left.
func (service *Service) Renewable(ctx context.Context, ownerID string) ([]Listing, error) {
	return service.store.Renewable(ctx, ownerID, service.clock().Add(RenewalWindow), MaxRenewals)
}

// ApplyBoost records an active boost on a listing, replacing any previous one.
func (service *Service) ApplyBoost(ctx context.Context, id string, tier string, endsAt time.Time) (Listing, error) {
	now := service.clock()
	endsAt = endsAt.UTC()
	if err := service.store.SetBoost(ctx, id, tier, endsAt, now); err != nil {
		return Listing{}, err
	}
	listing, err := service.store.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	return listing, nil
}

// ExpireStale moves every APPROVED listing past its expiration to EXPIRED and returns how many
// changed. Owners are notified after the batch commits; running it again is a no-op.
func (service *Service) ExpireStale(ctx context.Context) (int, error) {
	now := service.clock()
	var expired []Listing
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		candidates, err := txStore.LockExpirable(ctx, now)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		ids := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			ids = append(ids, candidate.ID)
		}
		affected, err := txStore.MarkExpired(ctx, ids, now)
		if err != nil {
			return err
		}
		if int(affected) == len(candidates) {
			expired = candidates
			return nil
		}
		expired, err = confirmExpired(ctx, txStore, candidates)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, listing := range expired {
		service.publisher.Publish(ctx, events.Event{
			Type:       events.TypeProductExpired,
			UserID:     listing.OwnerID,
			Title:      "Listing expired",
			Message:    fmt.Sprintf("Your listing %q has expired.", listing.Title),
			Data:       map[string]any{"product_id": listing.ID},
			OccurredAt: now,
		})
	}
	if len(expired) > 0 {
		service.logger.Info("listings expired", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (service *Service) owned(ctx context.Context, id string, ownerID string) (Listing, error) {
	listing, err := service.store.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if listing.OwnerID != ownerID {
		return Listing{}, ErrForbidden
	}
	return listing, nil
}

func (service *Service) clock() time.Time {
	return service.now().UTC()
}

func checkRenewable(listing Listing) error {
	if listing.RenewalCount >= MaxRenewals {
		return ErrRenewalLimitExceeded
	}
	if _, err := Transition(listing.Status, ActionRenew); err != nil {
		return err
	}
	return nil
}

func confirmExpired(ctx context.Context, txStore Store, candidates []Listing) ([]Listing, error) {
	confirmed := make([]Listing, 0, len(candidates))
	for _, candidate := range candidates {
		latest, err := txStore.Get(ctx, candidate.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if latest.Status == StatusExpired {
			confirmed = append(confirmed, latest)
		}
	}
	return confirmed, nil
}
