package wallet

import "errors"

// Store errors
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicate means the record's (user_id, idempotency_key) already exists.
	ErrDuplicate = errors.New("duplicate idempotency key")
	// ErrConflict is a retryable lock or serialization failure.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrInvalidOp is returned for an Op that can never be applied.
	ErrInvalidOp = errors.New("invalid wallet operation")
)
