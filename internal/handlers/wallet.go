package handlers

import (
	"paysa/internal/services/transaction"
	"paysa/internal/utils"
	"paysa/internal/utils/response"
	"paysa/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
)

// WalletHandler exposes balances and cash movements for the caller's own wallets.
type WalletHandler struct {
	ledger Ledger
}

func NewWalletHandler(ledger Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

type cashRequest struct {
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	Method         string         `json:"method"`
	MethodDetails  map[string]any `json:"method_details"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// GetWallet handles GET /api/v1/wallets/:currency.
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	w, err := h.ledger.GetWallet(c.UserContext(), claims.UserID, c.Params("currency"))
	if err != nil {
		return fail(c, nil, err)
	}
	return response.Success(c, "wallet retrieved", w)
}

// CashIn handles POST /api/v1/cash-in.
func (h *WalletHandler) CashIn(c *fiber.Ctx) error {
	return h.cash(c, transaction.DirectionIn)
}

// CashOut handles POST /api/v1/cash-out.
func (h *WalletHandler) CashOut(c *fiber.Ctx) error {
	return h.cash(c, transaction.DirectionOut)
}

func (h *WalletHandler) cash(c *fiber.Ctx, dir transaction.Direction) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req cashRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}
	key := idempotencyKey(c, req.IdempotencyKey)

	v := validation.New()
	v.Required(req.Amount, "amount")
	v.Required(req.Currency, "currency")
	v.Required(req.Method, "method")
	v.Required(key, "idempotency_key")
	v.MaxLength(key, "idempotency_key", validation.MaxIdempotencyKeyLength)
	if err := v.Err(); err != nil {
		return fail(c, nil, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fail(c, nil, err)
	}

	tx, err := h.ledger.SubmitCashMovement(c.UserContext(), transaction.CashRequest{
		UserID:         claims.UserID,
		Direction:      dir,
		Amount:         amount,
		Currency:       req.Currency,
		Method:         req.Method,
		MethodDetails:  req.MethodDetails,
		IdempotencyKey: key,
	})
	return respond(c, "cash movement completed", tx, err)
}
