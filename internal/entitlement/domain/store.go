package domain

import "context"

// Store is the persisted, key-indexed record store. Write failures must be
// returned to the caller; FindBalance returns (nil, nil) when absent.
type Store interface {
	UpsertEntitlement(ctx context.Context, e Entitlement) error
	DeleteEntitlement(ctx context.Context, productID string) error
	ListEntitlements(ctx context.Context) ([]Entitlement, error)

	FindBalance(ctx context.Context, productID string) (*ConsumableBalance, error)
	SaveBalance(ctx context.Context, b ConsumableBalance) error
	ListBalances(ctx context.Context) ([]ConsumableBalance, error)
	// IsTransactionApplied reports whether a consumable transaction was
	// already credited.
	IsTransactionApplied(ctx context.Context, transactionID string) (bool, error)
	// CreditTransaction saves b and records applied as one atomic write.
	CreditTransaction(ctx context.Context, b ConsumableBalance, applied AppliedTransaction) error

	UpsertRenewal(ctx context.Context, r RenewalStatus) error
	ListRenewals(ctx context.Context) ([]RenewalStatus, error)
}
