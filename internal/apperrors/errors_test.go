package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{FunctionID: "fn-1", Missing: []string{"order_id"}, Invalid: []string{"amount"}}

	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "missing: order_id")
	assert.Contains(t, err.Error(), "invalid: amount")

	wrapped := fmt.Errorf("execute: %w", err)
	got, ok := AsValidationError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, []string{"order_id"}, got.Missing)
}

func TestSignatureErrorIsUnauthorized(t *testing.T) {
	err := fmt.Errorf("webhook abc: %w", ErrSignature)
	assert.ErrorIs(t, err, ErrSignature)
	assert.True(t, IsUnauthorizedError(err))
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestRetryableAndFatal(t *testing.T) {
	base := errors.New("boom")

	r := NewRetryable(base, "calling %s", "crm")
	assert.True(t, IsRetryable(r))
	assert.False(t, IsFatal(r))
	assert.ErrorIs(t, r, base)
	assert.Contains(t, r.Error(), "calling crm")

	f := NewFatal(ErrBadRequest, "decode payload")
	assert.True(t, IsFatal(f))
	assert.True(t, IsBadRequestError(f))
}
