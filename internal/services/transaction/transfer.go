package transaction

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "paysa/internal/errors"
	"paysa/internal/models"
	"paysa/internal/money"
	"paysa/internal/services/fx"
	"paysa/internal/services/wallet"

	"github.com/shopspring/decimal"
)

// SubmitTransfer moves req.Amount from the sender's wallet to the recipient's,
// converted at the day's rate and net of the markup fee. The debit, the
// credit and the completed record land in one atomic operation.
//
// Business-rule rejections return the persisted failed record together with
// the error. A replay of the same idempotency key returns the stored outcome.
func (s *Service) SubmitTransfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("submit_transfer", time.Since(start)) }()

	req.SourceCurrency = strings.ToUpper(strings.TrimSpace(req.SourceCurrency))
	req.DestinationCurrency = strings.ToUpper(strings.TrimSpace(req.DestinationCurrency))
	if req.DestinationCurrency == "" {
		req.DestinationCurrency = req.SourceCurrency
	}
	switch {
	case req.IdempotencyKey == "":
		return nil, apperrors.Validation(apperrors.CodeMissingField, "idempotency key is required")
	case req.SenderID == "" || req.RecipientID == "":
		return nil, apperrors.Validation(apperrors.CodeMissingField, "sender and recipient are required")
	}

	hash := requestHash(models.KindP2P, req.SenderID, req.RecipientID, req.Amount.String(),
		req.SourceCurrency, req.DestinationCurrency, req.Message)
	existing, err := s.lookup(ctx, req.SenderID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(existing, hash)
	}

	if err := s.checkCurrency(req.SourceCurrency); err != nil {
		return nil, err
	}
	if err := s.checkCurrency(req.DestinationCurrency); err != nil {
		return nil, err
	}
	if err := money.Validate(req.Amount, req.SourceCurrency); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, err.Error()).
			With("amount", req.Amount.String()).
			With("currency", req.SourceCurrency)
	}
	if req.SenderID == req.RecipientID {
		return nil, apperrors.Validation(apperrors.CodeSelfTransfer, "cannot transfer to yourself")
	}

	now := s.now()
	rate, err := s.rate(ctx, now, req.SourceCurrency, req.DestinationCurrency)
	if err != nil {
		return nil, err
	}
	fee := money.Round(req.Amount.Mul(s.cfg.FXMarkup), req.SourceCurrency)
	net := money.Round(req.Amount.Sub(fee).Mul(rate), req.DestinationCurrency)
	if !net.IsPositive() {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "amount does not cover the transfer fee").
			With("amount", req.Amount.String()).
			With("fee", fee.String())
	}

	tx := &models.Transaction{
		ID:                  s.newID(),
		IdempotencyKey:      req.IdempotencyKey,
		RequestHash:         hash,
		UserID:              req.SenderID,
		Kind:                models.KindP2P,
		SenderRef:           models.WalletRef(req.SenderID, req.SourceCurrency),
		RecipientRef:        models.WalletRef(req.RecipientID, req.DestinationCurrency),
		SourceAmount:        req.Amount,
		SourceCurrency:      req.SourceCurrency,
		DestinationAmount:   net,
		DestinationCurrency: req.DestinationCurrency,
		FXRate:              rate,
		FeeAmount:           fee,
		NetAmount:           net,
		Status:              models.StatusPending,
		Message:             req.Message,
		CreatedAt:           now,
	}
	if err := advance(tx, models.StatusValidating); err != nil {
		return nil, s.internal(ctx, "submit_transfer", err)
	}

	done := tx.Clone()
	if err := walk(done, models.StatusReserved, models.StatusCompleted); err != nil {
		return nil, s.internal(ctx, "submit_transfer", err)
	}

	senderKey := wallet.Key{UserID: req.SenderID, Currency: req.SourceCurrency}
	recipientKey := wallet.Key{UserID: req.RecipientID, Currency: req.DestinationCurrency}
	err = s.atomically(ctx, "submit_transfer", wallet.Op{
		Mutations: []wallet.Mutation{
			{Key: senderKey, Delta: req.Amount.Neg()},
			{Key: recipientKey, Delta: net, CreateIfMissing: true},
		},
		Guard: func(ctx context.Context, v wallet.View) error {
			// Usage is read as of lock acquisition so a concurrent request
			// that committed first is always counted.
			at := s.now()
			done.CreatedAt = at
			done.CompletedAt = &at

			sender := v.Wallet(senderKey)
			if sender == nil {
				return insufficientBalance(req.SourceCurrency, decimal.Zero, req.Amount)
			}
			if err := checkActive(sender); err != nil {
				return err
			}
			if err := checkActive(v.Wallet(recipientKey)); err != nil {
				return err
			}
			if sender.Balance.LessThan(req.Amount) {
				return insufficientBalance(req.SourceCurrency, sender.Balance, req.Amount)
			}
			return s.limits.Check(ctx, v, req.SenderID, req.SourceCurrency, req.Amount, at)
		},
		Record: done,
		Create: true,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			err = insufficientBalance(req.SourceCurrency, decimal.Zero, req.Amount)
		}
		return s.reject(ctx, "submit_transfer", tx, err)
	}

	s.logger.InfoContext(ctx, "transfer completed",
		"transaction_id", done.ID,
		"sender", req.SenderID,
		"recipient", req.RecipientID,
		"amount", done.SourceAmount.String(),
		"currency", done.SourceCurrency,
	)
	s.finish(ctx, done, req.RecipientID)
	return done, nil
}

// rate returns the day's conversion rate. A missing rate is fatal for the request.
func (s *Service) rate(ctx context.Context, at time.Time, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, err := s.rates.GetRate(ctx, at, from, to)
	if err != nil {
		if errors.Is(err, fx.ErrRateUnavailable) {
			s.metrics.RecordError("fx_rate", string(apperrors.KindRateUnavailable))
			return decimal.Zero, apperrors.ErrRateUnavailable.
				With("from", from).
				With("to", to).
				With("date", at.Format(fx.DateLayout)).
				Wrap(err)
		}
		return decimal.Zero, s.internal(ctx, "fx_rate", err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, s.internal(ctx, "fx_rate", errors.New("rate source returned a non-positive rate"))
	}
	return rate, nil
}
