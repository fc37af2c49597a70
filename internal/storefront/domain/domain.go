// Package domain defines the contract of the commerce authority feed the
// ledger reconciles against.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrInvalidProductID     = errors.New("invalid_product_id")
	ErrTransactionNotFound  = errors.New("transaction_not_found")
	ErrSourceClosed         = errors.New("source_closed")
	ErrDuplicateTransaction = errors.New("duplicate_transaction")
)

// VerificationResult wraps a transaction with the authority's trust verdict.
// ProductID and Kind are untrusted until the verifier accepts the result.
type VerificationResult struct {
	TransactionID string     `json:"transaction_id"`
	ProductID     string     `json:"product_id"`
	Kind          string     `json:"kind"`
	Quantity      int64      `json:"quantity"`
	PurchasedAt   time.Time  `json:"purchased_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Verified      bool       `json:"verified"`
	Reason        string     `json:"reason,omitempty"`

	// Pending marks a purchase awaiting approval, such as a parental
	// approval request. It grants nothing until resolved.
	Pending bool `json:"pending,omitempty"`
}

// RenewalOutlook is the authority's current view of a subscription renewal.
type RenewalOutlook struct {
	ProductID      string     `json:"product_id"`
	RenewsAt       *time.Time `json:"renews_at,omitempty"`
	WillAutoRenew  bool       `json:"will_auto_renew"`
	InBillingRetry bool       `json:"in_billing_retry"`
	Verified       bool       `json:"verified"`
	Reason         string     `json:"reason,omitempty"`
}

// Source produces transaction results. History and CurrentEntitlements are
// finite: both channels are closed when the sequence ends, and at most one
// error is sent before that.
type Source interface {
	History(ctx context.Context) (<-chan VerificationResult, <-chan error)
	CurrentEntitlements(ctx context.Context) (<-chan VerificationResult, <-chan error)
	// Updates subscribes to the live feed. The subscription stays open until closed.
	Updates(ctx context.Context) (Subscription, error)
	// Finish acknowledges a processed transaction so it is not delivered again.
	Finish(ctx context.Context, transactionID string) error
}

type Subscription interface {
	Events() <-chan VerificationResult
	Close()
}

// RenewalQuerier returns the renewal outlook of a subscription product, or
// nil when none applies.
type RenewalQuerier interface {
	RenewalOutlook(ctx context.Context, productID string) (*RenewalOutlook, error)
}
