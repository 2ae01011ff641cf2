package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) EnsureBalance(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&CreditBalance{UserID: userID, CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeEnsure, err)
	}
	return nil
}

func (store *LedgerStore) GetBalance(ctx context.Context, userID string) (ledger.Credits, error) {
	var model CreditBalance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return ledger.Credits(model.Balance), nil
}

func (store *LedgerStore) Increment(ctx context.Context, userID string, amount ledger.Credits) error {
	err := store.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount.Int64()),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeIncrement, err)
	}
	return nil
}

// TryDecrement relies on a guarded UPDATE so concurrent debits can never drive the balance negative.
func (store *LedgerStore) TryDecrement(ctx context.Context, userID string, amount ledger.Credits) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&CreditBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount.Int64()).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount.Int64()),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectBalance, errorCodeDecrement, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	model := CreditTransaction{
		TransactionID:  transaction.ID,
		UserID:         transaction.UserID,
		Type:           string(transaction.Type),
		Amount:         transaction.Amount.Int64(),
		Description:    transaction.Description,
		PaymentMethod:  stringPointer(string(transaction.PaymentMethod)),
		IdempotencyKey: stringPointer(transaction.IdempotencyKey),
		Metadata:       datatypesJSON(transaction.MetadataJSON),
		CreatedAt:      time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if transaction.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

type sqlTotals struct {
	Earned int64
	Spent  int64
}

func (store *LedgerStore) SumTotals(ctx context.Context, userID string) (ledger.Totals, error) {
	var totals sqlTotals
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(case when amount > 0 then amount else 0 end),0) as earned, " +
			"coalesce(sum(case when amount < 0 then -amount else 0 end),0) as spent").
		Where("user_id = ?", userID).
		Scan(&totals).Error
	if err != nil {
		return ledger.Totals{}, wrapStoreError(errorSubjectBalance, errorCodeSumTotals, err)
	}
	return ledger.Totals{Earned: ledger.Credits(totals.Earned), Spent: ledger.Credits(totals.Spent)}, nil
}

func (store *LedgerStore) ListTransactions(ctx context.Context, userID string, limit int, offset int) ([]ledger.Transaction, error) {
	var models []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("transaction_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(models))
	for _, model := range models {
		transactions = append(transactions, ledger.Transaction{
			ID:             model.TransactionID,
			UserID:         model.UserID,
			Type:           ledger.TransactionType(model.Type),
			Amount:         ledger.Credits(model.Amount),
			Description:    model.Description,
			PaymentMethod:  ledger.PaymentMethod(stringOrEmpty(model.PaymentMethod)),
			IdempotencyKey: stringOrEmpty(model.IdempotencyKey),
			MetadataJSON:   string(model.Metadata),
			CreatedUnixUTC: model.CreatedAt.Unix(),
		})
	}
	return transactions, nil
}
