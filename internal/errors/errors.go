// Package errors defines the ledger's error taxonomy shared by services and handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a DomainError. Callers branch on Kind, never on Message.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindLimitExceeded       Kind = "LIMIT_EXCEEDED"
	KindKycRequired         Kind = "KYC_REQUIRED"
	KindRateUnavailable     Kind = "RATE_UNAVAILABLE"
	KindConnectorFailure    Kind = "CONNECTOR_FAILURE"
	KindConnectorTimeout    Kind = "CONNECTOR_TIMEOUT"
	KindConflict            Kind = "CONCURRENCY_CONFLICT"
	KindNotFound            Kind = "NOT_FOUND"
	KindInternal            Kind = "INTERNAL"
)

// DomainError is an error that carries enough context for a client to act on.
type DomainError struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// Is matches another DomainError of the same Kind, so sentinel kinds work with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != string(t.Kind) {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// With returns a copy carrying an extra detail.
func (e *DomainError) With(key string, value any) *DomainError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy whose Unwrap yields cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	cp := *e
	cp.cause = cause
	return &cp
}

// HTTPStatus maps a kind to the status code handlers respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientBalance, KindLimitExceeded, KindRateUnavailable:
		return http.StatusUnprocessableEntity
	case KindKycRequired:
		return http.StatusForbidden
	case KindConnectorFailure:
		return http.StatusBadGateway
	case KindConnectorTimeout:
		return http.StatusAccepted
	case KindConflict:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// New builds a DomainError.
func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Validation builds a ValidationError with a specific code.
func Validation(code, message string) *DomainError {
	return New(KindValidation, code, message)
}

// Sentinels for errors.Is checks on kind.
var (
	ErrValidation          = New(KindValidation, string(KindValidation), "invalid request")
	ErrInsufficientBalance = New(KindInsufficientBalance, string(KindInsufficientBalance), "insufficient wallet balance")
	ErrLimitExceeded       = New(KindLimitExceeded, string(KindLimitExceeded), "spending limit exceeded")
	ErrKycRequired         = New(KindKycRequired, string(KindKycRequired), "identity verification tier too low")
	ErrRateUnavailable     = New(KindRateUnavailable, string(KindRateUnavailable), "no exchange rate published for today")
	ErrConnectorFailure    = New(KindConnectorFailure, string(KindConnectorFailure), "settlement rejected by payment channel")
	ErrSettlementPending   = New(KindConnectorTimeout, string(KindConnectorTimeout), "settlement outcome pending, check back later")
	ErrConflict            = New(KindConflict, string(KindConflict), "concurrent update conflict")
	ErrNotFound            = New(KindNotFound, string(KindNotFound), "not found")
	ErrInternal            = New(KindInternal, string(KindInternal), "internal error")
)

// Validation codes.
const (
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeSelfTransfer         = "SELF_TRANSFER"
	CodeUnsupportedCurrency  = "UNSUPPORTED_CURRENCY"
	CodeUnknownMethod        = "UNKNOWN_METHOD"
	CodeMissingField         = "MISSING_FIELD"
	CodeFieldTooLong         = "FIELD_TOO_LONG"
	CodeIdempotencyKeyReused = "IDEMPOTENCY_KEY_REUSED"
	CodeWalletLocked         = "WALLET_LOCKED"
	CodeWalletNotFound       = "WALLET_NOT_FOUND"
	CodeTransactionNotFound  = "TRANSACTION_NOT_FOUND"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidDirection     = "INVALID_DIRECTION"
	CodeTransactionCancelled = "TRANSACTION_CANCELLED"
)

// Business rejection codes that refine a kind.
const (
	CodeDailyLimitExceeded   = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded = "MONTHLY_LIMIT_EXCEEDED"
	CodeSettlementRejected   = "SETTLEMENT_REJECTED"
	CodeAmountMismatch       = "SETTLEMENT_AMOUNT_MISMATCH"
)

var codeKinds = map[string]Kind{
	CodeDailyLimitExceeded:   KindLimitExceeded,
	CodeMonthlyLimitExceeded: KindLimitExceeded,
	CodeSettlementRejected:   KindConnectorFailure,
}

// As is errors.As narrowed to DomainError.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for anything that is not a DomainError.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return KindInternal
}

// FromCode rebuilds an error from a stored failure code. Used when replaying a failed record.
func FromCode(code, reason string) *DomainError {
	kind, ok := codeKinds[code]
	if !ok {
		kind = Kind(code)
		switch kind {
		case KindValidation, KindInsufficientBalance, KindLimitExceeded, KindKycRequired,
			KindRateUnavailable, KindConnectorFailure, KindConnectorTimeout, KindConflict, KindNotFound:
		case "":
			kind = KindInternal
		default:
			kind = KindValidation
		}
	}
	msg := reason
	if msg == "" {
		msg = string(kind)
	}
	return New(kind, code, msg)
}
