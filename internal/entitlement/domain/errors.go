package domain

import (
	"errors"
	"strings"
)

// ErrorKind classifies reconciliation failures.
type ErrorKind string

const (
	KindVerificationFailed       ErrorKind = "verification_failed"
	KindUnknownProduct           ErrorKind = "unknown_product"
	KindUnsupportedProductType   ErrorKind = "unsupported_product_type"
	KindInsufficientBalance      ErrorKind = "insufficient_balance"
	KindInvalidAmount            ErrorKind = "invalid_amount"
	KindPurchasePending          ErrorKind = "purchase_pending"
	KindPersistenceReadFailed    ErrorKind = "persistence_read_failed"
	KindPersistenceWriteFailed   ErrorKind = "persistence_write_failed"
	KindSubscriptionStatusFailed ErrorKind = "subscription_status_failed"
	KindSyncFailed               ErrorKind = "sync_failed"
	KindUnknown                  ErrorKind = "unknown"
)

// Error is a classified failure with an optional product and cause.
// Identity is the Kind; the message is never used for comparison.
type Error struct {
	Kind      ErrorKind
	ProductID string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("entitlement: ")
	b.WriteString(string(e.Kind))
	if e.ProductID != "" {
		b.WriteString(" (product ")
		b.WriteString(e.ProductID)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind against a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.ProductID == "" && t.Err == nil
}

var (
	ErrVerificationFailed       = &Error{Kind: KindVerificationFailed}
	ErrUnknownProduct           = &Error{Kind: KindUnknownProduct}
	ErrUnsupportedProductType   = &Error{Kind: KindUnsupportedProductType}
	ErrInsufficientBalance      = &Error{Kind: KindInsufficientBalance}
	ErrInvalidAmount            = &Error{Kind: KindInvalidAmount}
	ErrPurchasePending          = &Error{Kind: KindPurchasePending}
	ErrPersistenceReadFailed    = &Error{Kind: KindPersistenceReadFailed}
	ErrPersistenceWriteFailed   = &Error{Kind: KindPersistenceWriteFailed}
	ErrSubscriptionStatusFailed = &Error{Kind: KindSubscriptionStatusFailed}
	ErrSyncFailed               = &Error{Kind: KindSyncFailed}
	ErrUnknown                  = &Error{Kind: KindUnknown}
)

// NewError builds a classified error.
func NewError(kind ErrorKind, productID string, cause error) *Error {
	return &Error{Kind: kind, ProductID: productID, Err: cause}
}

// Classify returns err as an *Error, wrapping unclassified failures as
// KindUnknown with the original cause kept.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Err: err}
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// IsPersistence reports whether err is a read or write failure of the store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistenceReadFailed) || errors.Is(err, ErrPersistenceWriteFailed)
}

// Message returns a user-facing description of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	e := Classify(err)
	switch e.Kind {
	case KindVerificationFailed:
		return "The purchase could not be verified."
	case KindUnknownProduct:
		return "Unrecognised product identifier."
	case KindUnsupportedProductType:
		return "Unsupported product type."
	case KindInsufficientBalance:
		return "Not enough credits remaining."
	case KindInvalidAmount:
		return "The amount is invalid."
	case KindPurchasePending:
		return "The purchase is awaiting approval."
	case KindPersistenceReadFailed:
		return "Stored purchases could not be read."
	case KindPersistenceWriteFailed:
		return "The purchase could not be saved."
	case KindSubscriptionStatusFailed:
		return "Subscription status could not be refreshed."
	case KindSyncFailed:
		return "Purchases could not be synchronised."
	default:
		return "Something went wrong."
	}
}
