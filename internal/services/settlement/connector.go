// Package settlement talks to the payment rails that move value outside the ledger.
//
// Connectors are external and fallible. An error wrapping ErrRejected is a
// definitive failure and lets the caller release a hold. Any other error is
// ambiguous: the money may or may not have moved, and only a later
// QueryStatus can tell.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"paysa/internal/models"

	"github.com/shopspring/decimal"
)

// Status is the connector's view of a settlement.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrRejected marks a definitive refusal by the rail.
	ErrRejected = errors.New("settlement rejected")
	// ErrUnknownReference is returned by QueryStatus for a reference the rail never issued.
	ErrUnknownReference = errors.New("unknown settlement reference")
	// ErrNoConnector means no connector serves the requested method.
	ErrNoConnector = errors.New("no settlement connector for method")
)

// Result is one answer from a connector.
type Result struct {
	ExternalRef string          `json:"external_ref"`
	Status      Status          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Detail      string          `json:"detail,omitempty"`
}

// Connector submits a cash transaction to a rail. Submit must be idempotent
// on the transaction ID so a resubmission after a timeout cannot pay twice.
type Connector interface {
	Submit(ctx context.Context, tx *models.Transaction) (Result, error)
	QueryStatus(ctx context.Context, externalRef string) (Result, error)
}

// Router picks the connector that serves a cash method.
type Router interface {
	For(method string) (Connector, error)
}

// Registry is a Router backed by a method table with an optional fallback.
type Registry struct {
	mu       sync.RWMutex
	byMethod map[string]Connector
	fallback Connector
}

// NewRegistry creates a registry. fallback may be nil.
func NewRegistry(fallback Connector) *Registry {
	return &Registry{byMethod: make(map[string]Connector), fallback: fallback}
}

// Register routes every listed method to c.
func (r *Registry) Register(c Connector, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range methods {
		r.byMethod[m] = c
	}
}

func (r *Registry) For(method string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byMethod[method]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoConnector, method)
}
