package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CreditBalance mirrors the credit_balances table.
type CreditBalance struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0;check:chk_credit_balances_non_negative,balance >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	TransactionID  string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"not null;index:idx_credit_transactions_user_created,priority:1;uniqueIndex:uniq_credit_transactions_user_idem,priority:1"`
	Type           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	Description    string         `gorm:"not null;default:''"`
	PaymentMethod  *string        `gorm:""`
	IdempotencyKey *string        `gorm:"uniqueIndex:uniq_credit_transactions_user_idem,priority:2"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// Listing mirrors the listings table.
type Listing struct {
	ID           string          `gorm:"type:text;primaryKey"`
	OwnerID      string          `gorm:"not null;index:idx_listings_owner"`
	Title        string          `gorm:"not null"`
	Description  string          `gorm:"not null"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Images       datatypes.JSON  `gorm:"type:jsonb;not null"`
	Location     string          `gorm:"not null"`
	Category     string          `gorm:"not null;default:''"`
	Condition    string          `gorm:"not null;default:''"`
	Status       string          `gorm:"not null;index:idx_listings_status_expires,priority:1"`
	ExpiresAt    time.Time       `gorm:"not null;index:idx_listings_status_expires,priority:2"`
	RenewalCount int             `gorm:"not null;default:0"`
	Views        int64           `gorm:"not null;default:0"`
	BoostTier    *string         `gorm:""`
	BoostEndsAt  *time.Time      `gorm:""`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

// Notification mirrors the notifications table.
type Notification struct {
	ID        string         `gorm:"type:text;primaryKey"`
	UserID    string         `gorm:"not null;index:idx_notifications_user_created,priority:1"`
	Type      string         `gorm:"not null"`
	Title     string         `gorm:"not null"`
	Message   string         `gorm:"not null"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	IsRead    bool           `gorm:"not null;default:false"`
	CreatedAt time.Time      `gorm:"not null;index:idx_notifications_user_created,priority:2"`
}

func (Notification) TableName() string { return "notifications" }

// Models lists every table managed by this package, in creation order.
func Models() []any {
	return []any{&CreditBalance{}, &CreditTransaction{}, &Listing{}, &Notification{}}
}
