package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusAccepted     = "accepted"
	StatusDeduplicated = "deduplicated"
	// StatusRecorded is a change kept in the log without redelivery, as for
	// a finished consumable whose credit is final.
	StatusRecorded = "recorded"
)

// TransactionRecord is one authority transaction as last notified.
type TransactionRecord struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TransactionID string       `gorm:"type:text;not null;uniqueIndex"`
	ProductID     string       `gorm:"type:text;not null;index"`
	Kind          string       `gorm:"type:text;not null"`
	Quantity      int64        `gorm:"not null;default:1"`
	PurchasedAt   time.Time    `gorm:"not null"`
	RevokedAt     *time.Time
	ExpiresAt     *time.Time
	Verified      bool   `gorm:"not null;default:false"`
	Pending       bool   `gorm:"not null;default:false"`
	Reason        string `gorm:"type:text"`

	// Payload is the notification body as received, kept for audit.
	Payload    datatypes.JSON
	FinishedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (TransactionRecord) TableName() string { return "store_transactions" }

// Result rebuilds the authority result the record was created from.
func (r TransactionRecord) Result() VerificationResult {
	return VerificationResult{
		TransactionID: r.TransactionID,
		ProductID:     r.ProductID,
		Kind:          r.Kind,
		Quantity:      r.Quantity,
		PurchasedAt:   r.PurchasedAt,
		RevokedAt:     r.RevokedAt,
		ExpiresAt:     r.ExpiresAt,
		Verified:      r.Verified,
		Pending:       r.Pending,
		Reason:        r.Reason,
	}
}

// RenewalRecord is the latest renewal outlook notified for a product.
type RenewalRecord struct {
	ProductID      string `gorm:"primaryKey;type:text"`
	RenewsAt       *time.Time
	WillAutoRenew  bool      `gorm:"not null;default:false"`
	InBillingRetry bool      `gorm:"not null;default:false"`
	Verified       bool      `gorm:"not null;default:false"`
	Reason         string    `gorm:"type:text"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RenewalRecord) TableName() string { return "store_renewals" }

func (r RenewalRecord) Outlook() RenewalOutlook {
	return RenewalOutlook{
		ProductID:      r.ProductID,
		RenewsAt:       r.RenewsAt,
		WillAutoRenew:  r.WillAutoRenew,
		InBillingRetry: r.InBillingRetry,
		Verified:       r.Verified,
		Reason:         r.Reason,
	}
}

// Notification is a message pushed by the authority. Either part may be absent.
type Notification struct {
	Transaction *VerificationResult `json:"transaction,omitempty"`
	Renewal     *RenewalOutlook     `json:"renewal,omitempty"`
	// Raw is the body the notification was decoded from, when known.
	Raw []byte `json:"-"`
}

type IngestResult struct {
	TransactionStatus string `json:"transaction_status,omitempty"`
	RenewalRecorded   bool   `json:"renewal_recorded"`
}

type Repository interface {
	FindTransaction(ctx context.Context, transactionID string) (*TransactionRecord, error)
	InsertTransaction(ctx context.Context, record *TransactionRecord) error
	UpdateTransaction(ctx context.Context, record *TransactionRecord) error
	// ListTransactions returns up to limit records with ID greater than afterID, in ID order.
	ListTransactions(ctx context.Context, afterID snowflake.ID, limit int) ([]TransactionRecord, error)
	// MarkFinished stamps finishedAt on an unfinished record. It reports
	// whether a record with transactionID exists.
	MarkFinished(ctx context.Context, transactionID string, finishedAt time.Time) (bool, error)
	UpsertRenewal(ctx context.Context, record *RenewalRecord) error
	FindRenewal(ctx context.Context, productID string) (*RenewalRecord, error)
}
