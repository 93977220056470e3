package handlers

import (
	"paysa/internal/services/transaction"
	"paysa/internal/utils"
	"paysa/internal/utils/response"
	"paysa/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
)

// TransferHandler exposes P2P transfer endpoints.
type TransferHandler struct {
	ledger Ledger
}

func NewTransferHandler(ledger Ledger) *TransferHandler { return &TransferHandler{ledger: ledger} }

type transferRequest struct {
	RecipientID         string `json:"recipient_id"`
	Amount              string `json:"amount"`
	SourceCurrency      string `json:"source_currency"`
	DestinationCurrency string `json:"destination_currency"`
	Message             string `json:"message"`
	IdempotencyKey      string `json:"idempotency_key"`
}

// Transfer handles POST /api/v1/transfers.
func (h *TransferHandler) Transfer(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request")
	}
	key := idempotencyKey(c, req.IdempotencyKey)

	v := validation.New()
	v.Required(req.RecipientID, "recipient_id")
	v.Required(req.Amount, "amount")
	v.Required(req.SourceCurrency, "source_currency")
	v.Required(key, "idempotency_key")
	v.MaxLength(key, "idempotency_key", validation.MaxIdempotencyKeyLength)
	v.MaxLength(req.Message, "message", validation.MaxMessageLength)
	if err := v.Err(); err != nil {
		return fail(c, nil, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return fail(c, nil, err)
	}

	tx, err := h.ledger.SubmitTransfer(c.UserContext(), transaction.TransferRequest{
		SenderID:            claims.UserID,
		RecipientID:         req.RecipientID,
		Amount:              amount,
		SourceCurrency:      req.SourceCurrency,
		DestinationCurrency: req.DestinationCurrency,
		Message:             req.Message,
		IdempotencyKey:      key,
	})
	return respond(c, "transfer completed", tx, err)
}
