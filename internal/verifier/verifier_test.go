package verifier

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	cat, err := catalog.New(catalog.Config{
		Tiers: []string{"free", "pro"},
		Products: []catalog.ProductConfig{
			{ID: "pro", Kind: "non_consumable", Tier: "pro"},
			{ID: "consumable100", Kind: "consumable"},
			{ID: "monthly", Kind: "auto_renewable", Tier: "pro"},
		},
	})
	require.NoError(t, err)
	return New(cat)
}

func TestVerifyUnwrapsVerifiedResult(t *testing.T) {
	v := newVerifier(t)
	revokedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	txn, err := v.Verify(storedomain.VerificationResult{
		TransactionID: " 2000001 ",
		ProductID:     "pro",
		Kind:          "non_consumable",
		Quantity:      1,
		RevokedAt:     &revokedAt,
		Verified:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "2000001", txn.ID)
	assert.Equal(t, catalog.ProductID("pro"), txn.ProductID)
	assert.Equal(t, catalog.KindNonConsumable, txn.Kind)
	assert.True(t, txn.Revoked())
}

func TestVerifyRejectsUnverified(t *testing.T) {
	v := newVerifier(t)

	_, err := v.Verify(storedomain.VerificationResult{ProductID: "pro", Reason: "invalid_signature"})
	require.ErrorIs(t, err, entdomain.ErrVerificationFailed)
	assert.EqualError(t, errors.Unwrap(err), "invalid_signature")

	_, err = v.Verify(storedomain.VerificationResult{ProductID: "pro"})
	require.ErrorIs(t, err, entdomain.ErrVerificationFailed)
	assert.EqualError(t, errors.Unwrap(err), defaultReason)
}

func TestVerifyRejectsUnknownProduct(t *testing.T) {
	v := newVerifier(t)

	_, err := v.Verify(storedomain.VerificationResult{ProductID: "retired_sku", Verified: true})
	require.ErrorIs(t, err, entdomain.ErrUnknownProduct)
	assert.Equal(t, "retired_sku", entdomain.Classify(err).ProductID)
}

func TestVerifyDefaultsQuantityToOneUnit(t *testing.T) {
	v := newVerifier(t)

	txn, err := v.Verify(storedomain.VerificationResult{ProductID: "consumable100", Kind: "consumable", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), txn.Quantity)

	txn, err = v.Verify(storedomain.VerificationResult{ProductID: "consumable100", Kind: "consumable", Quantity: 3, Verified: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), txn.Quantity)
}

func TestVerifyRenewal(t *testing.T) {
	v := newVerifier(t)
	renewsAt := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	status, err := v.VerifyRenewal("monthly", storedomain.RenewalOutlook{
		RenewsAt:      &renewsAt,
		WillAutoRenew: true,
		Verified:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "monthly", status.ProductID)
	assert.Equal(t, &renewsAt, status.RenewsAt)
	assert.True(t, status.WillAutoRenew)

	_, err = v.VerifyRenewal("monthly", storedomain.RenewalOutlook{Reason: "expired_receipt"})
	assert.ErrorIs(t, err, entdomain.ErrVerificationFailed)
}

func TestVerifyHoldsPendingPurchase(t *testing.T) {
	v := newVerifier(t)

	_, err := v.Verify(storedomain.VerificationResult{ProductID: "pro", Verified: true, Pending: true})
	assert.ErrorIs(t, err, entdomain.ErrPurchasePending)
	assert.NotErrorIs(t, err, entdomain.ErrVerificationFailed)

	// Pending wins over an unverified result so the purchase is held, not dropped.
	_, err = v.Verify(storedomain.VerificationResult{ProductID: "pro", Pending: true})
	assert.ErrorIs(t, err, entdomain.ErrPurchasePending)
}

func TestVerifyRejectsNegativeQuantity(t *testing.T) {
	v := newVerifier(t)

	_, err := v.Verify(storedomain.VerificationResult{ProductID: "consumable100", Kind: "consumable", Quantity: -5, Verified: true})
	require.ErrorIs(t, err, entdomain.ErrInvalidAmount)
	assert.Equal(t, "consumable100", entdomain.Classify(err).ProductID)
}
