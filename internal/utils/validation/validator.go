// Package validation collects field errors from a request body before it reaches a service.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "paysa/internal/errors"
)

// Field size caps for free text stored on a transaction.
const (
	MaxMessageLength        = 500
	MaxIdempotencyKeyLength = 100
	MaxReferenceLength      = 100
)

type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Validator struct {
	Errors []ValidationError
}

func New() *Validator {
	return &Validator{
		Errors: make([]ValidationError, 0),
	}
}

func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

func (v *Validator) AddError(field, code, message string) {
	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Code:    code,
		Message: message,
	})
}

func (v *Validator) Check(ok bool, field, code, message string) {
	if !ok {
		v.AddError(field, code, message)
	}
}

// Required records an error when value is blank.
func (v *Validator) Required(value, field string) {
	v.Check(strings.TrimSpace(value) != "", field, apperrors.CodeMissingField, "is required")
}

// MaxLength records an error when value has more than n characters.
func (v *Validator) MaxLength(value, field string, n int) {
	v.Check(utf8.RuneCountInString(value) <= n, field, apperrors.CodeFieldTooLong,
		fmt.Sprintf("must not be more than %d characters long", n))
}

// Err returns nil when valid, otherwise a validation DomainError listing every
// field. The code is taken from the first failure.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	fields := make(map[string]any, len(v.Errors))
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		fields[e.Field] = e.Message
		msgs = append(msgs, e.Error())
	}
	return apperrors.Validation(v.Errors[0].Code, strings.Join(msgs, "; ")).With("fields", fields)
}
