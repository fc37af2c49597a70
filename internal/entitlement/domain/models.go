// Package domain contains the persisted ledger records and the contract of
// the store that holds them.
package domain

import (
	"time"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
)

// Entitlement marks ownership of a non-consumable or subscription product.
// Presence of the row is the ownership fact.
type Entitlement struct {
	ProductID string    `gorm:"primaryKey;type:text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// ConsumableBalance is the remaining quantity of a consumable product.
// Balances are kept at zero rather than deleted.
type ConsumableBalance struct {
	ProductID string    `gorm:"primaryKey;type:text"`
	Quantity  int64     `gorm:"not null;default:0;check:quantity >= 0"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConsumableBalance) TableName() string { return "consumable_balances" }

// RenewalStatus is the latest known renewal outlook of a subscription.
// Every refresh overwrites the whole row.
type RenewalStatus struct {
	ProductID      string     `gorm:"primaryKey;type:text"`
	RenewsAt       *time.Time `gorm:""`
	WillAutoRenew  bool       `gorm:"not null;default:false"`
	InBillingRetry bool       `gorm:"not null;default:false"`
	UpdatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RenewalStatus) TableName() string { return "renewal_statuses" }

// AppliedTransaction marks a consumable transaction whose units were
// credited. A transaction id is credited at most once.
type AppliedTransaction struct {
	TransactionID string    `gorm:"primaryKey;type:text"`
	ProductID     string    `gorm:"type:text;not null;index"`
	Quantity      int64     `gorm:"not null"`
	AppliedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AppliedTransaction) TableName() string { return "applied_transactions" }

// Transaction is a verified purchase transaction for a catalog product.
type Transaction struct {
	ID          string
	ProductID   catalog.ProductID
	Kind        catalog.Kind
	Quantity    int64
	PurchasedAt time.Time
	RevokedAt   *time.Time
	ExpiresAt   *time.Time
}

// Revoked reports whether the transaction carries a revocation marker.
func (t Transaction) Revoked() bool { return t.RevokedAt != nil }
