package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
)

// ListingStore implements listing.Store using GORM.
type ListingStore struct {
	db *gorm.DB
}

// NewListingStore returns a ListingStore backed by gorm.DB.
func NewListingStore(db *gorm.DB) *ListingStore {
	return &ListingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *ListingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore listing.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &ListingStore{db: transaction})
	})
}

func (store *ListingStore) Create(ctx context.Context, item listing.Listing) error {
	model, err := toListingModel(item)
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeCreate, err)
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeCreate, err)
	}
	return nil
}

func (store *ListingStore) Get(ctx context.Context, id string) (listing.Listing, error) {
	var model Listing
	err := store.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return listing.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, listing.ErrNotFound)
	}
	if err != nil {
		return listing.Listing{}, wrapStoreError(errorSubjectListing, errorCodeGet, err)
	}
	return fromListingModel(model)
}

func (store *ListingStore) List(ctx context.Context, filter listing.Filter, now time.Time) ([]listing.Listing, error) {
	query := store.db.WithContext(ctx).Model(&Listing{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Location != "" {
		query = query.Where("LOWER(location) LIKE ?", "%"+strings.ToLower(filter.Location)+"%")
	}
	if filter.MinPrice != nil {
		query = query.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query = query.Where("price <= ?", *filter.MaxPrice)
	}
	var models []Listing
	err := query.
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN boost_ends_at > ? THEN 0 ELSE 1 END, created_at DESC, id",
			Vars:               []any{now.UTC()},
			WithoutParentheses: true,
		}}).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, err)
	}
	return fromListingModels(models)
}

// SaveContent writes the user-editable columns only; lifecycle columns are owned by the guarded updates.
func (store *ListingStore) SaveContent(ctx context.Context, item listing.Listing) error {
	images, err := encodeJSON(nonNilImages(item.Images), emptyArrayJSON)
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"title":       item.Title,
			"description": item.Description,
			"price":       item.Price,
			"images":      images,
			"location":    item.Location,
			"category":    item.Category,
			"condition":   string(item.Condition),
			"updated_at":  item.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, listing.ErrNotFound)
	}
	return nil
}

func (store *ListingStore) Delete(ctx context.Context, id string) error {
	result := store.db.WithContext(ctx).Where("id = ?", id).Delete(&Listing{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, listing.ErrNotFound)
	}
	return nil
}

func (store *ListingStore) IncrementViews(ctx context.Context, id string) error {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, listing.ErrNotFound)
	}
	return nil
}

func (store *ListingStore) TransitionStatus(ctx context.Context, id string, from listing.Status, to listing.Status, at time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at.UTC()})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectListing, errorCodeUpdateStatus, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *ListingStore) Renew(ctx context.Context, id string, expiresAt time.Time, maxRenewals int, at time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id = ? AND status = ? AND renewal_count < ?", id, string(listing.StatusApproved), maxRenewals).
		Updates(map[string]any{
			"expires_at":    expiresAt.UTC(),
			"renewal_count": gorm.Expr("renewal_count + 1"),
			"updated_at":    at.UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *ListingStore) SetBoost(ctx context.Context, id string, tier string, endsAt time.Time, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"boost_tier":    tier,
			"boost_ends_at": endsAt.UTC(),
			"updated_at":    at.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectListing, errorCodeUpdate, listing.ErrNotFound)
	}
	return nil
}

// LockExpirable takes row locks on Postgres; SQLite serializes writers instead.
func (store *ListingStore) LockExpirable(ctx context.Context, now time.Time) ([]listing.Listing, error) {
	var models []Listing
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND expires_at < ?", string(listing.StatusApproved), now.UTC()).
		Order("expires_at").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeExpire, err)
	}
	return fromListingModels(models)
}

func (store *ListingStore) MarkExpired(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("id IN ? AND status = ? AND expires_at < ?", ids, string(listing.StatusApproved), now.UTC()).
		Updates(map[string]any{"status": string(listing.StatusExpired), "updated_at": now.UTC()})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectListing, errorCodeExpire, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *ListingStore) Renewable(ctx context.Context, ownerID string, before time.Time, maxRenewals int) ([]listing.Listing, error) {
	var models []Listing
	err := store.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND expires_at <= ? AND renewal_count < ?",
			ownerID, string(listing.StatusApproved), before.UTC(), maxRenewals).
		Order("expires_at").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, err)
	}
	return fromListingModels(models)
}

func (store *ListingStore) CountByStatus(ctx context.Context) (map[listing.Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := store.db.WithContext(ctx).
		Model(&Listing{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeCount, err)
	}
	counts := make(map[listing.Status]int64, len(rows))
	for _, row := range rows {
		status, err := listing.ParseStatus(row.Status)
		if err != nil {
			return nil, wrapStoreError(errorSubjectListing, errorCodeDecode, err)
		}
		counts[status] = row.Count
	}
	return counts, nil
}

func toListingModel(item listing.Listing) (Listing, error) {
	images, err := encodeJSON(nonNilImages(item.Images), emptyArrayJSON)
	if err != nil {
		return Listing{}, err
	}
	model := Listing{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Title:        item.Title,
		Description:  item.Description,
		Price:        item.Price,
		Images:       images,
		Location:     item.Location,
		Category:     item.Category,
		Condition:    string(item.Condition),
		Status:       string(item.Status),
		ExpiresAt:    item.ExpiresAt.UTC(),
		RenewalCount: item.RenewalCount,
		Views:        item.Views,
		BoostTier:    stringPointer(item.BoostTier),
		CreatedAt:    item.CreatedAt.UTC(),
		UpdatedAt:    item.UpdatedAt.UTC(),
	}
	if item.BoostEndsAt != nil {
		endsAt := item.BoostEndsAt.UTC()
		model.BoostEndsAt = &endsAt
	}
	return model, nil
}

func fromListingModel(model Listing) (listing.Listing, error) {
	var images []string
	if len(model.Images) > 0 {
		if err := json.Unmarshal(model.Images, &images); err != nil {
			return listing.Listing{}, wrapStoreError(errorSubjectListing, errorCodeDecode, err)
		}
	}
	status, err := listing.ParseStatus(model.Status)
	if err != nil {
		return listing.Listing{}, wrapStoreError(errorSubjectListing, errorCodeDecode, err)
	}
	item := listing.Listing{
		ID:           model.ID,
		OwnerID:      model.OwnerID,
		Title:        model.Title,
		Description:  model.Description,
		Price:        model.Price,
		Images:       images,
		Location:     model.Location,
		Category:     model.Category,
		Condition:    listing.Condition(model.Condition),
		Status:       status,
		ExpiresAt:    model.ExpiresAt.UTC(),
		RenewalCount: model.RenewalCount,
		Views:        model.Views,
		BoostTier:    stringOrEmpty(model.BoostTier),
		CreatedAt:    model.CreatedAt.UTC(),
		UpdatedAt:    model.UpdatedAt.UTC(),
	}
	if model.BoostEndsAt != nil {
		endsAt := model.BoostEndsAt.UTC()
		item.BoostEndsAt = &endsAt
	}
	return item, nil
}

func fromListingModels(models []Listing) ([]listing.Listing, error) {
	items := make([]listing.Listing, 0, len(models))
	for _, model := range models {
		item, err := fromListingModel(model)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func nonNilImages(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}
