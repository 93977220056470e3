// Package handlers exposes the ledger over HTTP. Handlers decode and
// authorize requests; every money rule lives in the transaction service.
package handlers

import (
	"context"
	"strings"

	apperrors "paysa/internal/errors"
	"paysa/internal/models"
	"paysa/internal/services/settlement"
	"paysa/internal/services/transaction"
	"paysa/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// IdempotencyHeader carries the client's idempotency key. A body field of the same purpose is accepted too.
const IdempotencyHeader = "Idempotency-Key"

// Ledger is the service surface the handlers need. *transaction.Service satisfies it.
type Ledger interface {
	SubmitTransfer(ctx context.Context, req transaction.TransferRequest) (*models.Transaction, error)
	SubmitCashMovement(ctx context.Context, req transaction.CashRequest) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetWallet(ctx context.Context, userID, currency string) (*models.Wallet, error)
	ResolveSettlement(ctx context.Context, id string, res settlement.Result) (*models.Transaction, error)
}

func idempotencyKey(c *fiber.Ctx, fromBody string) string {
	if key := strings.TrimSpace(c.Get(IdempotencyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(fromBody)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperrors.Validation(apperrors.CodeInvalidAmount, "amount must be a decimal string").
			With("amount", raw)
	}
	return amount, nil
}

// respond writes a service outcome. Rejected and pending requests still carry the record.
func respond(c *fiber.Ctx, message string, tx *models.Transaction, err error) error {
	if err == nil {
		return response.Success(c, message, tx)
	}
	return fail(c, tx, err)
}

func fail(c *fiber.Ctx, tx *models.Transaction, err error) error {
	de, ok := apperrors.As(err)
	if !ok {
		de = apperrors.ErrInternal.Wrap(err)
	}
	if tx == nil {
		return response.Domain(c, de, nil)
	}
	return response.Domain(c, de, tx)
}
