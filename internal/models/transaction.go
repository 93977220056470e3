package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds
const (
	KindP2P     = "p2p"
	KindCashIn  = "cash_in"
	KindCashOut = "cash_out"
)

// Transaction statuses
const (
	StatusPending    = "pending"
	StatusValidating = "validating"
	StatusReserved   = "reserved"
	StatusSettling   = "settling"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Transaction is the permanent ledger record of one money movement.
type Transaction struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	IdempotencyKey      string           `gorm:"size:128;not null;uniqueIndex:idx_tx_idempotency" json:"idempotency_key"`
	RequestHash         string           `gorm:"size:64;not null" json:"-"`
	UserID              string           `gorm:"size:64;not null;uniqueIndex:idx_tx_idempotency;index:idx_tx_usage,priority:1" json:"user_id"`
	Kind                string           `gorm:"size:16;not null" json:"kind"`
	SenderRef           string           `gorm:"size:128" json:"sender_ref"`
	RecipientRef        string           `gorm:"size:128" json:"recipient_ref"`
	SourceAmount        decimal.Decimal  `gorm:"type:numeric(20,8);not null" json:"source_amount"`
	SourceCurrency      string           `gorm:"size:3;not null" json:"source_currency"`
	DestinationAmount   decimal.Decimal  `gorm:"type:numeric(20,8);not null" json:"destination_amount"`
	DestinationCurrency string           `gorm:"size:3;not null" json:"destination_currency"`
	FXRate              decimal.Decimal  `gorm:"column:fx_rate;type:numeric(20,10);not null" json:"fx_rate"`
	FeeAmount           decimal.Decimal  `gorm:"type:numeric(20,8);not null" json:"fee_amount"`
	NetAmount           decimal.Decimal  `gorm:"type:numeric(20,8);not null" json:"net_amount"`
	Status              string           `gorm:"size:16;not null;default:'pending';index;index:idx_tx_usage,priority:2" json:"status"`
	FailureCode         *string          `gorm:"size:64" json:"failure_code,omitempty"`
	FailureReason       *string          `json:"failure_reason,omitempty"`
	FailureDetails      JSON             `gorm:"type:jsonb" json:"failure_details,omitempty"`
	Method              string           `gorm:"size:32" json:"method,omitempty"`
	MethodDetails       JSON             `gorm:"type:jsonb" json:"method_details,omitempty"`
	Message             string           `json:"message,omitempty"`
	ExternalReference   *string          `gorm:"size:128" json:"external_reference,omitempty"`
	SettlementAnchor    *string          `gorm:"size:128" json:"settlement_anchor,omitempty"`
	CreatedAt           time.Time        `gorm:"not null;index:idx_tx_usage,priority:3" json:"created_at"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Terminal reports whether the record can no longer change.
func (t *Transaction) Terminal() bool {
	return IsTerminal(t.Status)
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Spend is what counts toward a user's limits: outgoing kinds whose funds
// have left the wallet, including cash-out holds the rail has not settled.
var (
	SpendKinds    = []string{KindP2P, KindCashOut}
	SpendStatuses = []string{StatusReserved, StatusSettling, StatusCompleted}
)

// IsSpend reports whether the record counts toward its owner's limits.
func (t *Transaction) IsSpend() bool {
	return slices.Contains(SpendKinds, t.Kind) && slices.Contains(SpendStatuses, t.Status)
}

// IsCash reports whether the record moves value across the system boundary.
func (t *Transaction) IsCash() bool {
	return t.Kind == KindCashIn || t.Kind == KindCashOut
}

// WalletOwner is the user whose wallet funds the movement, or receives it for cash-in.
func (t *Transaction) WalletOwner() string {
	return t.UserID
}

// WalletRef names a wallet in SenderRef and RecipientRef.
func WalletRef(userID, currency string) string {
	return userID + "/" + currency
}

// ExternalRef names a party outside the ledger reached through a cash method.
func ExternalRef(method string) string {
	return "ext:" + method
}

// Involves reports whether userID owns the record or one of its wallets.
func (t *Transaction) Involves(userID string) bool {
	if userID == "" {
		return false
	}
	if t.UserID == userID {
		return true
	}
	for _, ref := range []string{t.SenderRef, t.RecipientRef} {
		if owner, _, ok := strings.Cut(ref, "/"); ok && owner == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.FailureCode = clonePtr(t.FailureCode)
	cp.FailureReason = clonePtr(t.FailureReason)
	cp.ExternalReference = clonePtr(t.ExternalReference)
	cp.SettlementAnchor = clonePtr(t.SettlementAnchor)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	cp.FailureDetails = t.FailureDetails.Clone()
	cp.MethodDetails = t.MethodDetails.Clone()
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
