package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save balance: %w", NewError(KindPersistenceWriteFailed, "coins", cause))

	assert.ErrorIs(t, err, ErrPersistenceWriteFailed)
	assert.NotErrorIs(t, err, ErrPersistenceReadFailed)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPersistence(err))
	assert.Equal(t, KindPersistenceWriteFailed, KindOf(err))
}

func TestClassifyWrapsUnknownCause(t *testing.T) {
	cause := errors.New("boom")
	e := Classify(cause)

	assert.Equal(t, KindUnknown, e.Kind)
	assert.ErrorIs(t, e, ErrUnknown)
	assert.ErrorIs(t, e, cause)
	assert.Nil(t, Classify(nil))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorsWithSameMessageAreNotEqualAcrossKinds(t *testing.T) {
	a := NewError(KindInsufficientBalance, "coins", nil)
	b := NewError(KindInvalidAmount, "coins", nil)

	assert.NotErrorIs(t, a, ErrInvalidAmount)
	assert.NotErrorIs(t, b, ErrInsufficientBalance)
	assert.Contains(t, a.Error(), "insufficient_balance")
	assert.Contains(t, a.Error(), "coins")
}

func TestMessageIsDerivedFromKind(t *testing.T) {
	assert.Equal(t, "Not enough credits remaining.", Message(ErrInsufficientBalance))
	assert.Equal(t, "Something went wrong.", Message(errors.New("x")))
	assert.Equal(t, "", Message(nil))
}
