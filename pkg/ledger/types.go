package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Credits is an integer amount of marketplace credits. Transaction amounts are signed.
type Credits int64

// Int64 returns the raw amount.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewCredits validates an amount and ensures it is strictly positive.
func NewCredits(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// UserID identifies a credit holder.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IdempotencyKey scopes duplicate purchase detection per user.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether the key was left unset.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// MetadataJSON stores arbitrary transaction metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFrom encodes a map as MetadataJSON.
func MetadataFrom(values map[string]any) (MetadataJSON, error) {
	if len(values) == 0 {
		return MetadataJSON{value: "{}"}, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(encoded)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// PaymentMethod names the external payment rail used for a purchase.
type PaymentMethod string

const (
	PaymentMethodStripe      PaymentMethod = "stripe"
	PaymentMethodPayPal      PaymentMethod = "paypal"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// NewPaymentMethod validates a payment method name.
func NewPaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodStripe, PaymentMethodPayPal, PaymentMethodMobileMoney:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TransactionPurchase      TransactionType = "purchase"
	TransactionEarn          TransactionType = "earn"
	TransactionSpend         TransactionType = "spend"
	TransactionBoost         TransactionType = "boost"
	TransactionRefund        TransactionType = "refund"
	TransactionBoostReversal TransactionType = "boost_reversal"
)

// IsDebit reports whether the type removes credits from a balance.
func (transactionType TransactionType) IsDebit() bool {
	switch transactionType {
	case TransactionSpend, TransactionBoost, TransactionRefund:
		return true
	default:
		return false
	}
}

// Transaction is a single immutable ledger line.
type Transaction struct {
	ID             string
	UserID         string
	Type           TransactionType
	Amount         Credits
	Description    string
	PaymentMethod  PaymentMethod
	IdempotencyKey string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Totals aggregates a user's transaction history.
type Totals struct {
	Earned Credits
	Spent  Credits
}

// Balance view for a user.
type Balance struct {
	UserID      string
	Balance     Credits
	TotalEarned Credits
	TotalSpent  Credits
}

// Package is a purchasable credit bundle.
type Package struct {
	ID      string
	Name    string
	Credits Credits
	Bonus   Credits
	Price   int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	EnsureBalance(ctx context.Context, userID string) error
	GetBalance(ctx context.Context, userID string) (Credits, error)
	Increment(ctx context.Context, userID string, amount Credits) error
	// TryDecrement subtracts amount only when the stored balance covers it and reports whether it did.
	TryDecrement(ctx context.Context, userID string, amount Credits) (bool, error)
	InsertTransaction(ctx context.Context, transaction Transaction) error
	SumTotals(ctx context.Context, userID string) (Totals, error)
	ListTransactions(ctx context.Context, userID string, limit int, offset int) ([]Transaction, error)
}

var creditPackages = []Package{
	{ID: "starter", Name: "Starter", Credits: 10, Bonus: 0, Price: 10},
	{ID: "popular", Name: "Popular", Credits: 25, Bonus: 3, Price: 22},
	{ID: "pro", Name: "Pro", Credits: 50, Bonus: 10, Price: 40},
	{ID: "enterprise", Name: "Enterprise", Credits: 100, Bonus: 25, Price: 75},
}

// Packages returns the static credit price list.
func Packages() []Package {
	return append([]Package(nil), creditPackages...)
}
