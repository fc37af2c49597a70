// Package verifier turns authority results into trusted ledger input.
package verifier

import (
	"errors"
	"strings"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
)

const defaultReason = "unverified"

type Verifier struct {
	catalog *catalog.Catalog
}

func New(cat *catalog.Catalog) *Verifier {
	return &Verifier{catalog: cat}
}

// Verify unwraps a verified result into a transaction. Pending purchases fail
// with KindPurchasePending, results the authority did not verify with
// KindVerificationFailed and products outside the catalog with
// KindUnknownProduct. A missing quantity counts as one unit; a negative one
// fails with KindInvalidAmount.
func (v *Verifier) Verify(result storedomain.VerificationResult) (entdomain.Transaction, error) {
	raw := strings.TrimSpace(result.ProductID)
	if result.Pending {
		return entdomain.Transaction{}, entdomain.NewError(entdomain.KindPurchasePending, raw, nil)
	}
	if !result.Verified {
		return entdomain.Transaction{}, entdomain.NewError(entdomain.KindVerificationFailed, raw, reasonError(result.Reason))
	}

	id, ok := v.catalog.Lookup(raw)
	if !ok {
		return entdomain.Transaction{}, entdomain.NewError(entdomain.KindUnknownProduct, raw, nil)
	}

	quantity := result.Quantity
	switch {
	case quantity < 0:
		return entdomain.Transaction{}, entdomain.NewError(entdomain.KindInvalidAmount, id.String(), nil)
	case quantity == 0:
		quantity = 1
	}

	return entdomain.Transaction{
		ID:          strings.TrimSpace(result.TransactionID),
		ProductID:   id,
		Kind:        catalog.ParseKind(result.Kind),
		Quantity:    quantity,
		PurchasedAt: result.PurchasedAt,
		RevokedAt:   result.RevokedAt,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

// VerifyRenewal unwraps a renewal outlook into the record that replaces the
// stored status of id.
func (v *Verifier) VerifyRenewal(id catalog.ProductID, outlook storedomain.RenewalOutlook) (entdomain.RenewalStatus, error) {
	if !outlook.Verified {
		return entdomain.RenewalStatus{}, entdomain.NewError(entdomain.KindVerificationFailed, id.String(), reasonError(outlook.Reason))
	}
	return entdomain.RenewalStatus{
		ProductID:      id.String(),
		RenewsAt:       outlook.RenewsAt,
		WillAutoRenew:  outlook.WillAutoRenew,
		InBillingRetry: outlook.InBillingRetry,
	}, nil
}

func reasonError(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultReason
	}
	return errors.New(reason)
}
