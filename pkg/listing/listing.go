// Package listing owns the listing lifecycle: creation, moderation transitions, renewal,
// sale, and time-based expiration.
package listing

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// ListingLifetime is how long a listing stays visible after creation or renewal.
	ListingLifetime = 7 * 24 * time.Hour
	// MaxRenewals bounds how often a listing may be renewed.
	MaxRenewals = 3
	// RenewalWindow is how close to expiration a listing shows up as renewable.
	RenewalWindow = 24 * time.Hour

	MaxImages            = 5
	minTitleLength       = 1
	maxTitleLength       = 100
	minDescriptionLength = 10
	maxDescriptionLength = 1000

	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Condition describes an item's wear.
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Listing is a product offered for sale.
type Listing struct {
	ID           string
	OwnerID      string
	Title        string
	Description  string
	Price        decimal.Decimal
	Images       []string
	Location     string
	Category     string
	Condition    Condition
	Status       Status
	ExpiresAt    time.Time
	RenewalCount int
	Views        int64
	BoostTier    string
	BoostEndsAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Boosted reports whether a boost is active at now.
func (listing Listing) Boosted(now time.Time) bool {
	return listing.BoostEndsAt != nil && listing.BoostEndsAt.After(now)
}

// Draft carries the user-supplied fields of a new listing.
type Draft struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Images      []string
	Location    string
	Category    string
	Condition   Condition
}

// Validate normalizes whitespace and checks field bounds.
func (draft *Draft) Validate() error {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.Location = strings.TrimSpace(draft.Location)
	draft.Category = strings.TrimSpace(draft.Category)
	if err := validateTitle(draft.Title); err != nil {
		return err
	}
	if err := validateDescription(draft.Description); err != nil {
		return err
	}
	if err := validatePrice(draft.Price); err != nil {
		return err
	}
	if draft.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	if err := validateCondition(draft.Condition); err != nil {
		return err
	}
	return validateImages(draft.Images)
}

// Update holds optional edits to listing content. Nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
	Price       *decimal.Decimal
	Images      []string
	Location    *string
	Category    *string
	Condition   *Condition
}

func (update Update) apply(listing *Listing) error {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := validateTitle(title); err != nil {
			return err
		}
		listing.Title = title
	}
	if update.Description != nil {
		description := strings.TrimSpace(*update.Description)
		if err := validateDescription(description); err != nil {
			return err
		}
		listing.Description = description
	}
	if update.Price != nil {
		if err := validatePrice(*update.Price); err != nil {
			return err
		}
		listing.Price = *update.Price
	}
	if update.Images != nil {
		if err := validateImages(update.Images); err != nil {
			return err
		}
		listing.Images = append([]string(nil), update.Images...)
	}
	if update.Location != nil {
		location := strings.TrimSpace(*update.Location)
		if location == "" {
			return fmt.Errorf("%w: location is required", ErrInvalidInput)
		}
		listing.Location = location
	}
	if update.Category != nil {
		listing.Category = strings.TrimSpace(*update.Category)
	}
	if update.Condition != nil {
		if err := validateCondition(*update.Condition); err != nil {
			return err
		}
		listing.Condition = *update.Condition
	}
	return nil
}

// Filter narrows a listing search.
type Filter struct {
	Status   Status
	OwnerID  string
	Category string
	Location string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Limit    int
	Offset   int
}

func (filter Filter) normalized() Filter {
	if filter.Status == "" && filter.OwnerID == "" {
		filter.Status = StatusApproved
	}
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Location = strings.TrimSpace(filter.Location)
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageLimit
	}
	if filter.Limit > MaxPageLimit {
		filter.Limit = MaxPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// Stats counts listings per status.
type Stats struct {
	Total    int64
	ByStatus map[Status]int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Create(ctx context.Context, listing Listing) error
	// Get returns ErrNotFound when no listing has the id.
	Get(ctx context.Context, id string) (Listing, error)
	// List orders active boosts first, then newest.
	List(ctx context.Context, filter Filter, now time.Time) ([]Listing, error)
	SaveContent(ctx context.Context, listing Listing) error
	Delete(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) error
	// TransitionStatus moves a listing to status to only while it is still in status from.
	TransitionStatus(ctx context.Context, id string, from Status, to Status, at time.Time) (bool, error)
	// Renew extends an APPROVED listing whose renewal count is still below maxRenewals.
	Renew(ctx context.Context, id string, expiresAt time.Time, maxRenewals int, at time.Time) (bool, error)
	SetBoost(ctx context.Context, id string, tier string, endsAt time.Time, at time.Time) error
	// LockExpirable selects APPROVED listings whose expiration is before now, locking them when supported.
	LockExpirable(ctx context.Context, now time.Time) ([]Listing, error)
	// MarkExpired moves the given APPROVED listings to EXPIRED and returns the affected count.
	MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error)
	Renewable(ctx context.Context, ownerID string, before time.Time, maxRenewals int) ([]Listing, error)
	// CountByStatus omits statuses without listings.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

func validateTitle(title string) error {
	length := utf8.RuneCountInString(title)
	if length < minTitleLength || length > maxTitleLength {
		return fmt.Errorf("%w: title must be %d to %d characters", ErrInvalidInput, minTitleLength, maxTitleLength)
	}
	return nil
}

func validateDescription(description string) error {
	length := utf8.RuneCountInString(description)
	if length < minDescriptionLength || length > maxDescriptionLength {
		return fmt.Errorf("%w: description must be %d to %d characters", ErrInvalidInput, minDescriptionLength, maxDescriptionLength)
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	return nil
}

func validateCondition(condition Condition) error {
	switch condition {
	case "", ConditionNew, ConditionUsed:
		return nil
	default:
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidInput, condition)
	}
}

func validateImages(images []string) error {
	if len(images) > MaxImages {
		return fmt.Errorf("%w: at most %d images", ErrInvalidInput, MaxImages)
	}
	for _, image := range images {
		if strings.TrimSpace(image) == "" {
			return fmt.Errorf("%w: empty image uri", ErrInvalidInput)
		}
	}
	return nil
}
