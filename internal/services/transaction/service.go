// Package transaction is the ledger's orchestrator. It takes one money
// movement request from validation to a terminal state: P2P transfers
// complete inside a single atomic wallet operation, cash movements reserve
// locally, settle through a connector outside any lock, then finalize or
// release.
package transaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	apperrors "paysa/internal/errors"
	"paysa/internal/metrics"
	"paysa/internal/models"
	"paysa/internal/services/events"
	"paysa/internal/services/fx"
	"paysa/internal/services/kyc"
	"paysa/internal/services/limits"
	"paysa/internal/services/settlement"
	"paysa/internal/services/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default configuration values
const (
	DefaultMaxConflictRetries = 3
	DefaultConflictBackoff    = 10 * time.Millisecond
	DefaultSettlementTimeout  = 15 * time.Second
)

// Cache holds terminal transactions for point lookups. Misses and failures are silent.
type Cache interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, bool)
	SetTransaction(ctx context.Context, tx *models.Transaction)
}

type noopCache struct{}

func (noopCache) GetTransaction(context.Context, string) (*models.Transaction, bool) { return nil, false }
func (noopCache) SetTransaction(context.Context, *models.Transaction)                {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, events.Event) error { return nil }

// Deps are the collaborators of the orchestrator. Events, Cache, Metrics and Logger are optional.
type Deps struct {
	Store      wallet.Store
	Limits     *limits.Tracker
	Rates      fx.RateSource
	Connectors settlement.Router
	KYC        kyc.Provider
	Events     events.Publisher
	Cache      Cache
	Metrics    metrics.Collector
	Logger     *slog.Logger
}

type Service struct {
	store      wallet.Store
	limits     *limits.Tracker
	rates      fx.RateSource
	connectors settlement.Router
	kyc        kyc.Provider
	events     events.Publisher
	cache      Cache
	metrics    metrics.Collector
	logger     *slog.Logger
	cfg        Config

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how transaction IDs are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	if deps.Store == nil {
		panic("store is required")
	}
	if deps.Limits == nil {
		panic("limit tracker is required")
	}
	if deps.Rates == nil {
		panic("rate source is required")
	}
	if deps.Connectors == nil {
		panic("settlement router is required")
	}
	if deps.KYC == nil {
		panic("kyc provider is required")
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Cache == nil {
		deps.Cache = noopCache{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopCollector{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	} else if cfg.MaxConflictRetries == 0 {
		cfg.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = DefaultConflictBackoff
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = DefaultSettlementTimeout
	}
	currencies := make([]string, len(cfg.Currencies))
	for i, c := range cfg.Currencies {
		currencies[i] = strings.ToUpper(c)
	}
	cfg.Currencies = currencies

	s := &Service{
		store:      deps.Store,
		limits:     deps.Limits,
		rates:      deps.Rates,
		connectors: deps.Connectors,
		kyc:        deps.KYC,
		events:     deps.Events,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTransaction returns the ledger record with id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if tx, ok := s.cache.GetTransaction(ctx, id); ok {
		return tx, nil
	}
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeTransactionNotFound, "transaction not found").With("id", id)
		}
		return nil, s.internal(ctx, "get_transaction", err)
	}
	if tx.Terminal() {
		s.cache.SetTransaction(ctx, tx)
	}
	return tx, nil
}

// GetWallet returns the wallet of userID in currency.
func (s *Service) GetWallet(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	w, err := s.store.GetWallet(ctx, wallet.Key{UserID: userID, Currency: currency})
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeWalletNotFound, "wallet not found").With("currency", currency)
		}
		return nil, s.internal(ctx, "get_wallet", err)
	}
	return w, nil
}

// Cancel stops a transaction that has not reserved funds yet. Submissions
// reserve within the same call, so only a pending or validating record left
// by a two-phase flow can be cancelled; every stored record today is refused.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeTransactionNotFound, "transaction not found").With("id", id)
		}
		return nil, s.internal(ctx, "cancel", err)
	}
	notCancellable := apperrors.Validation(apperrors.CodeInvalidTransition, "transaction can no longer be cancelled").
		With("status", tx.Status)
	if !CanTransition(tx.Status, models.StatusCancelled) {
		return tx, notCancellable
	}

	next := tx.Clone()
	if err := advance(next, models.StatusCancelled); err != nil {
		return tx, s.internal(ctx, "cancel", err)
	}
	reason := "cancelled before funds were reserved"
	code := apperrors.CodeTransactionCancelled
	next.FailureCode, next.FailureReason = &code, &reason

	err = s.atomically(ctx, "cancel", wallet.Op{
		Guard: func(ctx context.Context, v wallet.View) error {
			if cur := v.Stored(); !CanTransition(cur.Status, models.StatusCancelled) {
				return notCancellable.With("status", cur.Status)
			}
			return nil
		},
		Record: next,
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return tx, err
		}
		return nil, s.internal(ctx, "cancel", err)
	}
	s.finish(ctx, next)
	return next, nil
}

// requestHash fingerprints a request so a reused idempotency key with a different payload is caught.
func requestHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func canonicalDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprint(details)
	}
	return string(b)
}

// lookup returns the record stored under an idempotency key, or nil.
func (s *Service) lookup(ctx context.Context, userID, key string) (*models.Transaction, error) {
	tx, err := s.store.FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, s.internal(ctx, "idempotency_lookup", err)
	}
	return tx, nil
}

// replay answers a retried request from the stored record.
func (s *Service) replay(tx *models.Transaction, hash string) (*models.Transaction, error) {
	if tx.RequestHash != hash {
		return nil, apperrors.Validation(apperrors.CodeIdempotencyKeyReused,
			"idempotency key was already used for a different request").
			With("transaction_id", tx.ID)
	}
	return tx, outcomeError(tx)
}

// reload fetches the winner of a duplicate insert and replays it.
func (s *Service) reload(ctx context.Context, userID, key, hash string) (*models.Transaction, error) {
	tx, err := s.store.FindByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, s.internal(ctx, "idempotency_reload", err)
	}
	return s.replay(tx, hash)
}

// outcomeError is the error a caller sees for a stored record.
func outcomeError(tx *models.Transaction) error {
	switch tx.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusFailed, models.StatusCancelled:
		code, reason := "", ""
		if tx.FailureCode != nil {
			code = *tx.FailureCode
		}
		if tx.FailureReason != nil {
			reason = *tx.FailureReason
		}
		de := apperrors.FromCode(code, reason)
		for k, v := range tx.FailureDetails {
			de = de.With(k, v)
		}
		return de.With("transaction_id", tx.ID)
	default:
		return pendingError(tx)
	}
}

func pendingError(tx *models.Transaction) error {
	return apperrors.ErrSettlementPending.
		With("transaction_id", tx.ID).
		With("status", tx.Status)
}

func insufficientBalance(currency string, balance, requested decimal.Decimal) error {
	return apperrors.ErrInsufficientBalance.
		With("currency", currency).
		With("balance", balance.String()).
		With("requested", requested.String())
}

func checkActive(w *models.Wallet) error {
	if w != nil && !w.Active() {
		return apperrors.Validation(apperrors.CodeWalletLocked, "wallet is locked").
			With("wallet", models.WalletRef(w.UserID, w.Currency))
	}
	return nil
}

// rejectable errors end the request with a persisted failed record.
func rejectable(de *apperrors.DomainError) bool {
	switch de.Kind {
	case apperrors.KindInsufficientBalance, apperrors.KindLimitExceeded, apperrors.KindKycRequired:
		return true
	case apperrors.KindValidation:
		return de.Code == apperrors.CodeWalletLocked
	}
	return false
}

func (s *Service) checkCurrency(currency string) error {
	if currency == "" {
		return apperrors.Validation(apperrors.CodeMissingField, "currency is required")
	}
	if len(s.cfg.Currencies) > 0 && !slices.Contains(s.cfg.Currencies, currency) {
		return apperrors.Validation(apperrors.CodeUnsupportedCurrency, "currency is not supported").
			With("currency", currency)
	}
	return nil
}

// atomically runs op, retrying bounded times on concurrency conflicts.
func (s *Service) atomically(ctx context.Context, operation string, op wallet.Op) error {
	for attempt := 0; ; attempt++ {
		err := s.store.Atomically(ctx, op)
		if err == nil || !errors.Is(err, wallet.ErrConflict) {
			return err
		}
		if attempt >= s.cfg.MaxConflictRetries || ctx.Err() != nil {
			s.logger.WarnContext(ctx, "conflict retries exhausted", "operation", operation, "attempts", attempt+1, "error", err)
			return err
		}
		s.metrics.RecordConflictRetry(operation)
		timer := time.NewTimer(s.cfg.ConflictBackoff * time.Duration(attempt+1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

// reject handles an error from a reserving Op: business rules become a failed
// record, a lost idempotency race replays the winner, the rest is infrastructure.
func (s *Service) reject(ctx context.Context, operation string, tx *models.Transaction, err error) (*models.Transaction, error) {
	if errors.Is(err, wallet.ErrDuplicate) {
		return s.reload(ctx, tx.UserID, tx.IdempotencyKey, tx.RequestHash)
	}
	if de, ok := apperrors.As(err); ok {
		if rejectable(de) {
			return s.writeFailed(ctx, tx, de)
		}
		s.metrics.RecordError(operation, string(de.Kind))
		return nil, de
	}
	if errors.Is(err, wallet.ErrConflict) {
		s.metrics.RecordError(operation, string(apperrors.KindConflict))
		return nil, apperrors.ErrConflict.Wrap(err)
	}
	return nil, s.internal(ctx, operation, err)
}

// writeFailed persists tx as failed with the business error that stopped it.
func (s *Service) writeFailed(ctx context.Context, tx *models.Transaction, de *apperrors.DomainError) (*models.Transaction, error) {
	failed := tx.Clone()
	if err := advance(failed, models.StatusFailed); err != nil {
		return nil, s.internal(ctx, "write_failed", err)
	}
	code, reason := de.Code, de.Message
	failed.FailureCode = &code
	failed.FailureReason = &reason
	failed.FailureDetails = models.JSON(de.Details).Clone()
	failed.CreatedAt = s.now()

	err := s.atomically(ctx, "write_failed", wallet.Op{Record: failed, Create: true})
	if err != nil {
		if errors.Is(err, wallet.ErrDuplicate) {
			return s.reload(ctx, tx.UserID, tx.IdempotencyKey, tx.RequestHash)
		}
		return nil, s.internal(ctx, "write_failed", err)
	}
	s.metrics.RecordError(tx.Kind, string(de.Kind))
	s.finish(ctx, failed)
	return failed, de.With("transaction_id", failed.ID)
}

// internal logs the full detail for operators and returns a generic error.
func (s *Service) internal(ctx context.Context, operation string, err error) error {
	s.logger.ErrorContext(ctx, "ledger operation failed",
		"operation", operation,
		"programming_error", errors.Is(err, ErrInvalidTransition),
		"error", err,
	)
	s.metrics.RecordError(operation, string(apperrors.KindInternal))
	return apperrors.ErrInternal.Wrap(err)
}

// finish records metrics, caches terminal records and publishes side effects.
// extra lists other users to notify.
func (s *Service) finish(ctx context.Context, tx *models.Transaction, extra ...string) {
	s.metrics.RecordTransaction(tx.Kind, tx.Status, tx.SourceCurrency)
	if tx.Terminal() {
		s.cache.SetTransaction(ctx, tx)
	}

	ctx = context.WithoutCancel(ctx)
	payload := map[string]any{
		"kind":                 tx.Kind,
		"status":               tx.Status,
		"source_amount":        tx.SourceAmount.String(),
		"source_currency":      tx.SourceCurrency,
		"destination_amount":   tx.DestinationAmount.String(),
		"destination_currency": tx.DestinationCurrency,
		"fee_amount":           tx.FeeAmount.String(),
	}
	if tx.FailureCode != nil {
		payload["failure_code"] = *tx.FailureCode
	}

	var notify string
	switch tx.Status {
	case models.StatusCompleted:
		notify = events.TypeTransactionCompleted
	case models.StatusFailed, models.StatusCancelled:
		notify = events.TypeTransactionFailed
	default:
		notify = events.TypeTransactionPending
	}
	batch := []events.Event{events.New(notify, tx.ID, tx.UserID, payload)}
	if notify == events.TypeTransactionCompleted {
		for _, u := range extra {
			batch = append(batch, events.New(notify, tx.ID, u, payload))
		}
	}
	if tx.Terminal() {
		batch = append(batch, events.New(events.TypeAuditTransaction, tx.ID, tx.UserID, payload))
	}
	for _, e := range batch {
		if err := s.events.Publish(ctx, e); err != nil {
			s.logger.DebugContext(ctx, "event publish failed", "type", e.Type, "transaction_id", tx.ID, "error", err)
		}
	}
}
