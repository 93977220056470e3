package handlers

import (
	apperrors "paysa/internal/errors"
	"paysa/internal/models"
	"paysa/internal/services/settlement"
	"paysa/internal/utils"
	"paysa/internal/utils/response"
	"paysa/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type TransactionHandler struct {
	ledger Ledger
}

func NewTransactionHandler(ledger Ledger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// GetTransaction handles GET /api/v1/transactions/:id. Records the caller
// is not party to look exactly like missing ones.
func (h *TransactionHandler) GetTransaction(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id := c.Params("id")
	tx, err := h.ledger.GetTransaction(c.UserContext(), id)
	if err != nil {
		return fail(c, nil, err)
	}
	if !tx.Involves(claims.UserID) && !claims.HasPermission(models.PermissionLedgerAdmin) {
		return fail(c, nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeTransactionNotFound, "transaction not found").With("id", id))
	}
	return response.Success(c, "transaction retrieved", tx)
}

type resolveRequest struct {
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Detail      string `json:"detail"`
}

// ResolveSettlement handles POST /api/v1/settlements/:id/resolve, the
// partner callback carrying a rail's final answer.
func (h *TransactionHandler) ResolveSettlement(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}
	v := validation.New()
	v.Required(req.Status, "status")
	v.MaxLength(req.ExternalRef, "external_ref", validation.MaxReferenceLength)
	v.MaxLength(req.Detail, "detail", validation.MaxMessageLength)
	if err := v.Err(); err != nil {
		return fail(c, nil, err)
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = parseAmount(req.Amount); err != nil {
			return fail(c, nil, err)
		}
	}

	tx, err := h.ledger.ResolveSettlement(c.UserContext(), c.Params("id"), settlement.Result{
		ExternalRef: req.ExternalRef,
		Status:      settlement.Status(req.Status),
		Amount:      amount,
		Currency:    req.Currency,
		Detail:      req.Detail,
	})
	return respond(c, "settlement resolved", tx, err)
}
