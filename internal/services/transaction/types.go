package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a cash movement.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ManualMethod is the cash method of operator credits. It never reaches a connector.
const ManualMethod = "manual"

// TransferRequest moves money between two users' wallets.
type TransferRequest struct {
	SenderID            string
	RecipientID         string
	Amount              decimal.Decimal
	SourceCurrency      string
	DestinationCurrency string
	Message             string
	IdempotencyKey      string
}

// CashRequest moves money across the system boundary through a settlement connector.
type CashRequest struct {
	UserID         string
	Direction      Direction
	Amount         decimal.Decimal
	Currency       string
	Method         string
	MethodDetails  map[string]any
	IdempotencyKey string
}

// Config holds the business settings of the orchestrator.
type Config struct {
	// Currencies lists the supported currencies. Empty allows any.
	Currencies []string
	// CashMethods lists the accepted cash methods. Empty allows any the router knows.
	CashMethods []string
	// FXMarkup is the fee rate applied to every transfer, e.g. 0.025.
	FXMarkup decimal.Decimal
	// CashFees maps a cash method to its fee rate. Missing methods are free.
	CashFees           map[string]decimal.Decimal
	CashOutMinTier     int
	SettlementTimeout  time.Duration
	MaxConflictRetries int
	ConflictBackoff    time.Duration
}
