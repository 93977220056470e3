package validation

import (
	"strings"
	"testing"

	apperrors "paysa/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_CollectsEveryField(t *testing.T) {
	v := New()
	v.Required("", "amount")
	v.Required("  ", "currency")
	v.Required("PHP", "method")
	v.MaxLength(strings.Repeat("é", MaxMessageLength), "message", MaxMessageLength)
	v.MaxLength(strings.Repeat("x", MaxIdempotencyKeyLength+1), "idempotency_key", MaxIdempotencyKeyLength)

	err := v.Err()
	require.Error(t, err)
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, de.Kind)
	assert.Equal(t, apperrors.CodeMissingField, de.Code)
	assert.Equal(t, map[string]any{
		"amount":          "is required",
		"currency":        "is required",
		"idempotency_key": "must not be more than 100 characters long",
	}, de.Details["fields"])
}

func TestValidator_FirstCodeWins(t *testing.T) {
	v := New()
	v.MaxLength("abcdef", "reference", 3)
	v.Required("", "amount")

	de, ok := apperrors.As(v.Err())
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeFieldTooLong, de.Code)
}

func TestValidator_ValidReturnsNil(t *testing.T) {
	v := New()
	v.Required("alice", "recipient_id")
	v.MaxLength("hi", "message", MaxMessageLength)
	assert.True(t, v.Valid())
	assert.NoError(t, v.Err())
}
