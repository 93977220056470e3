package transaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "paysa/internal/errors"
	"paysa/internal/models"
	"paysa/internal/money"
	"paysa/internal/services/settlement"
	"paysa/internal/services/wallet"

	"github.com/shopspring/decimal"
)

// errStale means the stored record moved between read and lock; the caller re-reads.
var errStale = errors.New("stored transaction changed")

// SubmitCashMovement moves money in or out of a wallet through a settlement
// connector. The wallet step and the connector call never share a lock:
//
//  1. reserve: one atomic operation re-checks limits, places the cash-out hold
//     and writes the record as reserved
//  2. settle: the connector is called with SettlementTimeout
//  3. finalize or release: a second atomic operation applies the outcome
//
// When the connector times out or answers ambiguously the record stays
// reserved and ErrSettlementPending is returned; reconciliation resolves it.
func (s *Service) SubmitCashMovement(ctx context.Context, req CashRequest) (*models.Transaction, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("submit_cash", time.Since(start)) }()

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Method = strings.TrimSpace(req.Method)

	var kind string
	switch req.Direction {
	case DirectionIn:
		kind = models.KindCashIn
	case DirectionOut:
		kind = models.KindCashOut
	default:
		return nil, apperrors.Validation(apperrors.CodeInvalidDirection, "direction must be in or out").
			With("direction", string(req.Direction))
	}
	switch {
	case req.IdempotencyKey == "":
		return nil, apperrors.Validation(apperrors.CodeMissingField, "idempotency key is required")
	case req.UserID == "":
		return nil, apperrors.Validation(apperrors.CodeMissingField, "user is required")
	case req.Method == "":
		return nil, apperrors.Validation(apperrors.CodeMissingField, "method is required")
	}

	hash := requestHash(kind, req.UserID, req.Amount.String(), req.Currency, req.Method, canonicalDetails(req.MethodDetails))
	existing, err := s.lookup(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(existing, hash)
	}

	if err := s.checkCurrency(req.Currency); err != nil {
		return nil, err
	}
	if err := money.Validate(req.Amount, req.Currency); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, err.Error()).
			With("amount", req.Amount.String()).
			With("currency", req.Currency)
	}
	conn, err := s.connectorFor(req.Method)
	if err != nil {
		return nil, err
	}

	fee := money.Round(req.Amount.Mul(s.cfg.CashFees[req.Method]), req.Currency)
	net := req.Amount.Sub(fee)
	if !net.IsPositive() {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "amount does not cover the cash fee").
			With("amount", req.Amount.String()).
			With("fee", fee.String())
	}

	now := s.now()
	tx := &models.Transaction{
		ID:                  s.newID(),
		IdempotencyKey:      req.IdempotencyKey,
		RequestHash:         hash,
		UserID:              req.UserID,
		Kind:                kind,
		SourceAmount:        req.Amount,
		SourceCurrency:      req.Currency,
		DestinationAmount:   net,
		DestinationCurrency: req.Currency,
		FXRate:              decimal.NewFromInt(1),
		FeeAmount:           fee,
		NetAmount:           net,
		Status:              models.StatusPending,
		Method:              req.Method,
		MethodDetails:       models.JSON(req.MethodDetails).Clone(),
		CreatedAt:           now,
	}
	if kind == models.KindCashIn {
		tx.SenderRef = models.ExternalRef(req.Method)
		tx.RecipientRef = models.WalletRef(req.UserID, req.Currency)
	} else {
		tx.SenderRef = models.WalletRef(req.UserID, req.Currency)
		tx.RecipientRef = models.ExternalRef(req.Method)
	}
	if err := advance(tx, models.StatusValidating); err != nil {
		return nil, s.internal(ctx, "submit_cash", err)
	}

	if kind == models.KindCashOut {
		tier, err := s.kyc.GetTier(ctx, req.UserID)
		if err != nil {
			return nil, s.internal(ctx, "kyc_tier", err)
		}
		if tier < s.cfg.CashOutMinTier {
			return s.writeFailed(ctx, tx, apperrors.ErrKycRequired.
				With("tier", tier).
				With("required", s.cfg.CashOutMinTier))
		}
	}

	reserved := tx.Clone()
	if err := advance(reserved, models.StatusReserved); err != nil {
		return nil, s.internal(ctx, "submit_cash", err)
	}
	key := wallet.Key{UserID: req.UserID, Currency: req.Currency}
	mut := wallet.Mutation{Key: key, Delta: decimal.Zero, CreateIfMissing: true}
	if kind == models.KindCashOut {
		mut = wallet.Mutation{Key: key, Delta: req.Amount.Neg()}
	}

	err = s.atomically(ctx, "reserve_cash", wallet.Op{
		Mutations: []wallet.Mutation{mut},
		Guard: func(ctx context.Context, v wallet.View) error {
			at := s.now()
			reserved.CreatedAt = at

			w := v.Wallet(key)
			if err := checkActive(w); err != nil {
				return err
			}
			if kind == models.KindCashOut {
				if w == nil {
					return insufficientBalance(req.Currency, decimal.Zero, req.Amount)
				}
				if w.Balance.LessThan(req.Amount) {
					return insufficientBalance(req.Currency, w.Balance, req.Amount)
				}
			}
			return s.limits.Check(ctx, v, req.UserID, req.Currency, req.Amount, at)
		},
		Record: reserved,
		Create: true,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			err = insufficientBalance(req.Currency, decimal.Zero, req.Amount)
		}
		return s.reject(ctx, "reserve_cash", tx, err)
	}
	s.metrics.RecordTransaction(reserved.Kind, reserved.Status, reserved.SourceCurrency)

	return s.settle(ctx, conn, reserved)
}

func (s *Service) connectorFor(method string) (settlement.Connector, error) {
	unknown := apperrors.Validation(apperrors.CodeUnknownMethod, "cash method is not supported").
		With("method", method)
	if method == ManualMethod {
		return nil, unknown
	}
	if len(s.cfg.CashMethods) > 0 && !slices.Contains(s.cfg.CashMethods, method) {
		return nil, unknown
	}
	conn, err := s.connectors.For(method)
	if err != nil {
		return nil, unknown.Wrap(err)
	}
	return conn, nil
}

// settle calls the connector outside any wallet lock and applies a definitive answer.
func (s *Service) settle(ctx context.Context, conn settlement.Connector, tx *models.Transaction) (*models.Transaction, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SettlementTimeout)
	res, err := conn.Submit(sctx, tx.Clone())
	cancel()

	if err != nil {
		if !errors.Is(err, settlement.ErrRejected) {
			s.metrics.RecordSettlement(tx.Method, "ambiguous")
			s.logger.WarnContext(ctx, "settlement outcome unknown, left for reconciliation",
				"transaction_id", tx.ID,
				"method", tx.Method,
				"error", err,
			)
			s.finish(ctx, tx)
			return tx, pendingError(tx)
		}
		detail := res.Detail
		if detail == "" {
			detail = err.Error()
		}
		res = settlement.Result{ExternalRef: res.ExternalRef, Status: settlement.StatusFailed, Detail: detail}
	}
	return s.apply(ctx, tx.ID, res)
}

// ResolveSettlement applies a connector outcome learned out of band, from
// reconciliation or a rail callback. Resolving a terminal record is a no-op
// that returns the stored outcome.
func (s *Service) ResolveSettlement(ctx context.Context, id string, res settlement.Result) (*models.Transaction, error) {
	switch res.Status {
	case settlement.StatusSuccess, settlement.StatusFailed, settlement.StatusPending:
	default:
		return nil, apperrors.Validation(apperrors.CodeMissingField, "settlement status must be pending, success or failed").
			With("status", string(res.Status))
	}
	return s.apply(ctx, id, res)
}

// apply finalizes, releases or parks a reserved cash transaction.
func (s *Service) apply(ctx context.Context, id string, res settlement.Result) (*models.Transaction, error) {
	// The outcome already happened at the rail; a caller hanging up must not stop it being recorded.
	ctx = context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		tx, err := s.applyOnce(ctx, id, res)
		if !errors.Is(err, errStale) {
			return tx, err
		}
		if attempt >= s.cfg.MaxConflictRetries {
			return nil, s.internal(ctx, "apply_settlement", err)
		}
	}
}

func (s *Service) applyOnce(ctx context.Context, id string, res settlement.Result) (*models.Transaction, error) {
	stored, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeTransactionNotFound, "transaction not found").With("id", id)
		}
		return nil, s.internal(ctx, "apply_settlement", err)
	}
	if stored.Terminal() {
		return stored, outcomeError(stored)
	}
	if !stored.IsCash() || (stored.Status != models.StatusReserved && stored.Status != models.StatusSettling) {
		return stored, apperrors.Validation(apperrors.CodeInvalidTransition, "transaction is not awaiting settlement").
			With("status", stored.Status)
	}

	next := stored.Clone()
	if res.ExternalRef != "" {
		ref := res.ExternalRef
		next.ExternalReference = &ref
	}
	if next.Status == models.StatusReserved {
		if err := advance(next, models.StatusSettling); err != nil {
			return nil, s.internal(ctx, "apply_settlement", err)
		}
	}

	key := wallet.Key{UserID: stored.UserID, Currency: stored.SourceCurrency}
	var muts []wallet.Mutation
	outcome := string(res.Status)

	switch res.Status {
	case settlement.StatusSuccess:
		if !res.Amount.IsZero() && !res.Amount.Equal(stored.NetAmount) {
			outcome = "amount_mismatch"
			s.logger.ErrorContext(ctx, "settlement amount does not match transaction, left for operators",
				"transaction_id", stored.ID,
				"expected", stored.NetAmount.String(),
				"confirmed", res.Amount.String(),
			)
			break
		}
		if err := advance(next, models.StatusCompleted); err != nil {
			return nil, s.internal(ctx, "apply_settlement", err)
		}
		at := s.now()
		next.CompletedAt = &at
		if stored.Kind == models.KindCashIn {
			muts = []wallet.Mutation{{Key: key, Delta: stored.NetAmount, CreateIfMissing: true}}
		}

	case settlement.StatusFailed:
		if err := advance(next, models.StatusFailed); err != nil {
			return nil, s.internal(ctx, "apply_settlement", err)
		}
		code := apperrors.CodeSettlementRejected
		reason := res.Detail
		if reason == "" {
			reason = "settlement rejected by payment channel"
		}
		next.FailureCode = &code
		next.FailureReason = &reason
		next.FailureDetails = models.JSON{"method": stored.Method}
		if res.ExternalRef != "" {
			next.FailureDetails["external_reference"] = res.ExternalRef
		}
		if stored.Kind == models.KindCashOut {
			// Release exactly what the hold took.
			muts = []wallet.Mutation{{Key: key, Delta: stored.SourceAmount}}
		}

	case settlement.StatusPending:
		if stored.Status == models.StatusSettling && (res.ExternalRef == "" || sameRef(stored.ExternalReference, res.ExternalRef)) {
			return stored, pendingError(stored)
		}
	}

	err = s.atomically(ctx, "apply_settlement", wallet.Op{
		Mutations: muts,
		Guard: func(ctx context.Context, v wallet.View) error {
			if cur := v.Stored(); cur.Status != stored.Status {
				return errStale
			}
			return nil
		},
		Record: next,
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil, errStale
		}
		return nil, s.internal(ctx, "apply_settlement", err)
	}

	s.metrics.RecordSettlement(stored.Method, outcome)
	s.logger.InfoContext(ctx, "settlement applied",
		"transaction_id", next.ID,
		"kind", next.Kind,
		"outcome", outcome,
		"status", next.Status,
	)
	s.finish(ctx, next)
	if outcome == "amount_mismatch" {
		return next, apperrors.ErrSettlementPending.
			With("transaction_id", next.ID).
			With("status", next.Status).
			With("reason", apperrors.CodeAmountMismatch)
	}
	return next, outcomeError(next)
}

func sameRef(stored *string, ref string) bool {
	return stored != nil && *stored == ref
}

// CreditManual records an operator credit as a completed cash-in with the
// manual method. It skips limits and connectors and is meant for seeding and
// corrections.
func (s *Service) CreditManual(ctx context.Context, userID, currency string, amount decimal.Decimal, reference, idempotencyKey string) (*models.Transaction, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if userID == "" || idempotencyKey == "" {
		return nil, apperrors.Validation(apperrors.CodeMissingField, "user and idempotency key are required")
	}
	hash := requestHash(models.KindCashIn, ManualMethod, userID, amount.String(), currency, reference)
	existing, err := s.lookup(ctx, userID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(existing, hash)
	}
	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	if err := money.Validate(amount, currency); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, err.Error())
	}

	now := s.now()
	tx := &models.Transaction{
		ID:                  s.newID(),
		IdempotencyKey:      idempotencyKey,
		RequestHash:         hash,
		UserID:              userID,
		Kind:                models.KindCashIn,
		SenderRef:           models.ExternalRef(ManualMethod),
		RecipientRef:        models.WalletRef(userID, currency),
		SourceAmount:        amount,
		SourceCurrency:      currency,
		DestinationAmount:   amount,
		DestinationCurrency: currency,
		FXRate:              decimal.NewFromInt(1),
		FeeAmount:           decimal.Zero,
		NetAmount:           amount,
		Status:              models.StatusPending,
		Method:              ManualMethod,
		Message:             reference,
		CreatedAt:           now,
		CompletedAt:         &now,
	}
	if reference != "" {
		tx.ExternalReference = &reference
	}
	if err := walk(tx, models.StatusValidating, models.StatusReserved, models.StatusCompleted); err != nil {
		return nil, s.internal(ctx, "credit_manual", err)
	}

	err = s.atomically(ctx, "credit_manual", wallet.Op{
		Mutations: []wallet.Mutation{{Key: wallet.Key{UserID: userID, Currency: currency}, Delta: amount, CreateIfMissing: true}},
		Guard: func(ctx context.Context, v wallet.View) error {
			return checkActive(v.Wallet(wallet.Key{UserID: userID, Currency: currency}))
		},
		Record: tx,
		Create: true,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrDuplicate) {
			return s.reload(ctx, userID, idempotencyKey, hash)
		}
		if de, ok := apperrors.As(err); ok {
			return nil, de
		}
		return nil, s.internal(ctx, "credit_manual", fmt.Errorf("credit %s: %w", models.WalletRef(userID, currency), err))
	}
	s.finish(ctx, tx)
	return tx, nil
}
