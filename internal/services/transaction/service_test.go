package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "paysa/internal/errors"
	"paysa/internal/logger"
	"paysa/internal/models"
	"paysa/internal/services/events"
	"paysa/internal/services/fx"
	"paysa/internal/services/kyc"
	"paysa/internal/services/limits"
	"paysa/internal/services/settlement"
	"paysa/internal/services/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) For(txID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	svc    *Service
	store  *wallet.MemoryStore
	rates  *fx.StaticSource
	rail   *settlement.Simulated
	kyc    *kyc.StaticProvider
	events *recorder
	clock  *clock
}

type harnessOption func(*Config, *limits.Config)

func withCaps(daily, monthly string) harnessOption {
	return func(_ *Config, l *limits.Config) {
		l.Default = limits.Caps{Daily: dec(daily), Monthly: dec(monthly)}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:  wallet.NewMemoryStore(),
		rates:  fx.NewStaticSource(),
		rail:   settlement.NewSimulated(),
		kyc:    kyc.NewStaticProvider(map[string]int{"alice": kyc.TierVerified}),
		events: &recorder{},
		clock:  &clock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
	}
	h.rates.SetForDate(h.clock.Now(), "USD", "PHP", dec("56.25"))

	cfg := Config{
		Currencies:        []string{"PHP", "USD", "EUR"},
		CashMethods:       []string{"gcash", "bank_transfer"},
		FXMarkup:          dec("0.025"),
		CashFees:          map[string]decimal.Decimal{"gcash": dec("0.01")},
		CashOutMinTier:    kyc.TierBasic,
		SettlementTimeout: 50 * time.Millisecond,
		ConflictBackoff:   time.Millisecond,
	}
	lcfg := limits.Config{Default: limits.Caps{Daily: dec("50000"), Monthly: dec("500000")}}
	for _, opt := range opts {
		opt(&cfg, &lcfg)
	}

	var seq atomic.Int64
	h.svc = NewService(Deps{
		Store:      h.store,
		Limits:     limits.NewTracker(lcfg),
		Rates:      h.rates,
		Connectors: settlement.NewRegistry(h.rail),
		KYC:        h.kyc,
		Events:     h.events,
		Logger:     logger.Discard(),
	}, cfg,
		WithClock(h.clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("tx-%d", seq.Add(1)) }),
	)
	return h
}

// fund credits a wallet with a back-dated manual cash-in.
func (h *harness) fund(t *testing.T, user, currency, amount string) {
	t.Helper()
	rec := &models.Transaction{
		ID:             "fund-" + user + "-" + currency + "-" + amount,
		IdempotencyKey: "fund-" + currency + "-" + amount,
		UserID:         user,
		Kind:           models.KindCashIn,
		SourceAmount:   dec(amount),
		SourceCurrency: currency,
		Status:         models.StatusCompleted,
		Method:         ManualMethod,
		CreatedAt:      h.clock.Now().AddDate(0, -2, 0),
	}
	require.NoError(t, h.store.Atomically(context.Background(), wallet.Op{
		Mutations: []wallet.Mutation{{Key: wallet.Key{UserID: user, Currency: currency}, Delta: dec(amount), CreateIfMissing: true}},
		Record:    rec,
		Create:    true,
	}))
}

func (h *harness) balance(t *testing.T, user, currency string) decimal.Decimal {
	t.Helper()
	w, err := h.store.GetWallet(context.Background(), wallet.Key{UserID: user, Currency: currency})
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return decimal.Zero
	}
	require.NoError(t, err)
	return w.Balance
}

func transfer(from, to, amount, key string) TransferRequest {
	return TransferRequest{
		SenderID:       from,
		RecipientID:    to,
		Amount:         dec(amount),
		SourceCurrency: "PHP",
		IdempotencyKey: key,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestSubmitTransfer_DrainsWalletThenRejects(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	ctx := context.Background()

	tx, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "1000", "k1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assertDecimal(t, "25", tx.FeeAmount)
	assertDecimal(t, "975", tx.NetAmount)
	assertDecimal(t, "1", tx.FXRate)
	assertDecimal(t, "0", h.balance(t, "alice", "PHP"))
	assertDecimal(t, "975", h.balance(t, "bob", "PHP"))
	require.NotNil(t, tx.CompletedAt)

	failed, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "1", "k2"))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInsufficientBalance, apperrors.KindOf(err))
	require.NotNil(t, failed)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.FailureCode)
	assert.Equal(t, string(apperrors.KindInsufficientBalance), *failed.FailureCode)

	stored, err := h.svc.GetTransaction(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assertDecimal(t, "975", h.balance(t, "bob", "PHP"))
}

func TestSubmitTransfer_ConcurrentOverdraw(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SubmitTransfer(context.Background(), transfer("alice", "bob", "600", fmt.Sprintf("k%d", i)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperrors.KindOf(err) == apperrors.KindInsufficientBalance:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assertDecimal(t, "400", h.balance(t, "alice", "PHP"))
	assertDecimal(t, "585", h.balance(t, "bob", "PHP"))
}

func TestSubmitTransfer_ConservesValueUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		h.fund(t, u, "PHP", "1000")
	}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := users[i%len(users)], users[(i*3+1)%len(users)]
			if from == to {
				to = users[(i+1)%len(users)]
			}
			amount := fmt.Sprintf("%d.%02d", 50+i*7%150, i%100)
			_, _ = h.svc.SubmitTransfer(context.Background(), transfer(from, to, amount, fmt.Sprintf("c%d", i)))
		}()
	}
	wg.Wait()

	total := decimal.Zero
	for _, u := range users {
		b := h.balance(t, u, "PHP")
		assert.False(t, b.IsNegative(), "%s went negative: %s", u, b)
		total = total.Add(b)
	}
	fees := decimal.Zero
	for i := 0; i < 60; i++ {
		i := i
		tx, err := h.store.FindByIdempotencyKey(context.Background(), users[i%len(users)], fmt.Sprintf("c%d", i))
		require.NoError(t, err)
		require.True(t, tx.Terminal())
		if tx.Status == models.StatusCompleted {
			fees = fees.Add(tx.FeeAmount)
		}
	}
	assertDecimal(t, "5000", total.Add(fees))
}

func TestSubmitTransfer_Idempotency(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	ctx := context.Background()

	first, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "100", "same"))
	require.NoError(t, err)
	again, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "100", "same"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assertDecimal(t, "900", h.balance(t, "alice", "PHP"))

	_, err = h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "200", "same"))
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeIdempotencyKeyReused, de.Code)
	assertDecimal(t, "900", h.balance(t, "alice", "PHP"))

	// The key is scoped per user.
	h.fund(t, "carol", "PHP", "100")
	other, err := h.svc.SubmitTransfer(ctx, transfer("carol", "bob", "10", "same"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSubmitTransfer_ConcurrentRetriesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")

	ids := make([]string, 10)
	var wg sync.WaitGroup
	for i := range ids {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := h.svc.SubmitTransfer(context.Background(), transfer("alice", "bob", "100", "retry"))
			if assert.NoError(t, err) {
				ids[i] = tx.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assertDecimal(t, "900", h.balance(t, "alice", "PHP"))
	assertDecimal(t, "97.5", h.balance(t, "bob", "PHP"))
}

func TestSubmitTransfer_ReplaysFailure(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "10")
	ctx := context.Background()

	first, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "100", "k"))
	require.Error(t, err)
	h.fund(t, "alice", "PHP", "500")

	again, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "100", "k"))
	assert.Equal(t, apperrors.KindInsufficientBalance, apperrors.KindOf(err))
	assert.Equal(t, first.ID, again.ID)
	de, _ := apperrors.As(err)
	assert.Equal(t, first.ID, de.Details["transaction_id"])
}

func TestSubmitTransfer_LimitBoundaries(t *testing.T) {
	h := newHarness(t, withCaps("1000", "1500"))
	h.fund(t, "alice", "PHP", "5000")
	ctx := context.Background()

	_, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "600", "d1"))
	require.NoError(t, err)
	_, err = h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "400", "d2"))
	require.NoError(t, err, "reaching the cap exactly is allowed")

	failed, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "0.01", "d3"))
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindLimitExceeded, de.Kind)
	assert.Equal(t, apperrors.CodeDailyLimitExceeded, de.Code)
	assert.Equal(t, "1000", de.Details["used"])
	assert.Equal(t, "0.01", de.Details["excess"])
	assert.Equal(t, models.StatusFailed, failed.Status)
	assertDecimal(t, "4000", h.balance(t, "alice", "PHP"))

	h.clock.Advance(24 * time.Hour)
	_, err = h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "500", "d4"))
	require.NoError(t, err)
	_, err = h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "1", "d5"))
	de, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeMonthlyLimitExceeded, de.Code)
	assert.Equal(t, "monthly", de.Details["window"])
}

func TestSubmitTransfer_ConcurrentRequestsRecheckLimit(t *testing.T) {
	h := newHarness(t, withCaps("1000", "10000"))
	h.fund(t, "alice", "PHP", "10000")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		limited   atomic.Int32
	)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SubmitTransfer(context.Background(), transfer("alice", "bob", "600", fmt.Sprintf("cap%d", i)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperrors.KindOf(err) == apperrors.KindLimitExceeded:
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(7), limited.Load())
	assertDecimal(t, "9400", h.balance(t, "alice", "PHP"))
	assertDecimal(t, "585", h.balance(t, "bob", "PHP"))
}

func TestSubmitTransfer_CashInDoesNotConsumeCap(t *testing.T) {
	h := newHarness(t, withCaps("1000", "5000"))
	ctx := context.Background()

	for _, key := range []string{"top-up-1", "top-up-2"} {
		in, err := h.svc.SubmitCashMovement(ctx, cash(DirectionIn, "900", key))
		require.NoError(t, err)
		require.Equal(t, models.StatusCompleted, in.Status)
	}

	_, err := h.svc.SubmitTransfer(ctx, transfer("alice", "bob", "1000", "after-top-up"))
	require.NoError(t, err)
	assertDecimal(t, "782", h.balance(t, "alice", "PHP"))
}

func TestSubmitTransfer_ConvertsCurrency(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "USD", "1000")

	tx, err := h.svc.SubmitTransfer(context.Background(), TransferRequest{
		SenderID:            "alice",
		RecipientID:         "bob",
		Amount:              dec("100"),
		SourceCurrency:      "usd",
		DestinationCurrency: "PHP",
		IdempotencyKey:      "fx",
	})
	require.NoError(t, err)
	assertDecimal(t, "56.25", tx.FXRate)
	assertDecimal(t, "2.5", tx.FeeAmount)
	assertDecimal(t, "5484.38", tx.NetAmount)
	assertDecimal(t, "900", h.balance(t, "alice", "USD"))
	assertDecimal(t, "5484.38", h.balance(t, "bob", "PHP"))

	back := tx.FeeAmount.Add(tx.NetAmount.Div(tx.FXRate))
	assert.True(t, back.Sub(dec("100")).Abs().LessThanOrEqual(dec("0.01")), "fee + net/rate = %s", back)
}

func TestSubmitTransfer_RateUnavailable(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "USD", "1000")

	tx, err := h.svc.SubmitTransfer(context.Background(), TransferRequest{
		SenderID:            "alice",
		RecipientID:         "bob",
		Amount:              dec("10"),
		SourceCurrency:      "USD",
		DestinationCurrency: "EUR",
		IdempotencyKey:      "no-rate",
	})
	assert.Nil(t, tx)
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindRateUnavailable, de.Kind)
	assert.Equal(t, "2026-03-10", de.Details["date"])
	assertDecimal(t, "1000", h.balance(t, "alice", "USD"))

	_, err = h.store.FindByIdempotencyKey(context.Background(), "alice", "no-rate")
	assert.ErrorIs(t, err, wallet.ErrTransactionNotFound)
}

func TestSubmitTransfer_RateFromAnotherDayRefused(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "USD", "1000")
	h.rates.SetForDate(h.clock.Now().AddDate(0, 0, -1), "USD", "EUR", dec("0.92"))

	tx, err := h.svc.SubmitTransfer(context.Background(), TransferRequest{
		SenderID:            "alice",
		RecipientID:         "bob",
		Amount:              dec("10"),
		SourceCurrency:      "USD",
		DestinationCurrency: "EUR",
		IdempotencyKey:      "stale-rate",
	})
	assert.Nil(t, tx)
	assert.Equal(t, apperrors.KindRateUnavailable, apperrors.KindOf(err))
	assertDecimal(t, "1000", h.balance(t, "alice", "USD"))

	_, err = h.store.FindByIdempotencyKey(context.Background(), "alice", "stale-rate")
	assert.ErrorIs(t, err, wallet.ErrTransactionNotFound)
}

func TestSubmitTransfer_Validation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")

	tests := []struct {
		name string
		req  TransferRequest
		code string
	}{
		{"missing key", transfer("alice", "bob", "1", ""), apperrors.CodeMissingField},
		{"self", transfer("alice", "alice", "1", "a"), apperrors.CodeSelfTransfer},
		{"zero", transfer("alice", "bob", "0", "b"), apperrors.CodeInvalidAmount},
		{"too precise", transfer("alice", "bob", "1.001", "c"), apperrors.CodeInvalidAmount},
		{"currency", TransferRequest{SenderID: "alice", RecipientID: "bob", Amount: dec("1"), SourceCurrency: "JPY", IdempotencyKey: "d"}, apperrors.CodeUnsupportedCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := h.svc.SubmitTransfer(context.Background(), tt.req)
			assert.Nil(t, tx)
			de, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.KindValidation, de.Kind)
			assert.Equal(t, tt.code, de.Code)
		})
	}
	assertDecimal(t, "1000", h.balance(t, "alice", "PHP"))
}

func TestSubmitTransfer_PublishesEvents(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "100")

	tx, err := h.svc.SubmitTransfer(context.Background(), transfer("alice", "bob", "50", "ev"))
	require.NoError(t, err)

	var got []string
	for _, e := range h.events.For(tx.ID) {
		got = append(got, e.Type+":"+e.UserID)
	}
	assert.ElementsMatch(t, []string{
		events.TypeTransactionCompleted + ":alice",
		events.TypeTransactionCompleted + ":bob",
		events.TypeAuditTransaction + ":alice",
	}, got)
}

func cash(dir Direction, amount, key string) CashRequest {
	return CashRequest{
		UserID:         "alice",
		Direction:      dir,
		Amount:         dec(amount),
		Currency:       "PHP",
		Method:         "gcash",
		MethodDetails:  map[string]any{"account": "09170000000"},
		IdempotencyKey: key,
	}
}

func TestSubmitCashMovement_Success(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	ctx := context.Background()

	out, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "200", "out"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assertDecimal(t, "2", out.FeeAmount)
	assertDecimal(t, "198", out.NetAmount)
	require.NotNil(t, out.ExternalReference)
	assert.Equal(t, "alice/PHP", out.SenderRef)
	assert.Equal(t, "ext:gcash", out.RecipientRef)
	assertDecimal(t, "800", h.balance(t, "alice", "PHP"))

	in, err := h.svc.SubmitCashMovement(ctx, cash(DirectionIn, "500", "in"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, in.Status)
	assertDecimal(t, "495", in.NetAmount)
	assertDecimal(t, "1295", h.balance(t, "alice", "PHP"))

	// Replays never reach the rail again.
	submits := h.rail.Submissions()
	again, err := h.svc.SubmitCashMovement(ctx, cash(DirectionIn, "500", "in"))
	require.NoError(t, err)
	assert.Equal(t, in.ID, again.ID)
	assert.Equal(t, submits, h.rail.Submissions())
	assertDecimal(t, "1295", h.balance(t, "alice", "PHP"))
}

func TestSubmitCashMovement_RejectedReleasesHoldExactly(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000.37")
	before := h.balance(t, "alice", "PHP")
	h.rail.Script(settlement.Outcome{Err: fmt.Errorf("%w: account closed", settlement.ErrRejected)})

	tx, err := h.svc.SubmitCashMovement(context.Background(), cash(DirectionOut, "250.15", "out"))
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConnectorFailure, de.Kind)
	assert.Equal(t, apperrors.CodeSettlementRejected, de.Code)
	assert.Equal(t, models.StatusFailed, tx.Status)

	after := h.balance(t, "alice", "PHP")
	assert.True(t, before.Equal(after))
	assert.Equal(t, before.String(), after.String())
}

func TestSubmitCashMovement_TimeoutLeavesReservation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	h.rail.Script(settlement.Outcome{Status: settlement.StatusSuccess, Delay: time.Second})
	ctx := context.Background()

	tx, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "200", "slow"))
	assert.ErrorIs(t, err, apperrors.ErrSettlementPending)
	assert.Equal(t, models.StatusReserved, tx.Status)
	assertDecimal(t, "800", h.balance(t, "alice", "PHP"))

	ref, ok := h.rail.RefFor(tx.ID)
	require.True(t, ok)
	res, err := h.rail.QueryStatus(ctx, ref)
	require.NoError(t, err)

	done, err := h.svc.ResolveSettlement(ctx, tx.ID, res)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, ref, *done.ExternalReference)
	assertDecimal(t, "800", h.balance(t, "alice", "PHP"))
}

func TestSubmitCashMovement_AmbiguousThenFailed(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	h.rail.Script(settlement.Outcome{Err: errors.New("connection reset")})
	ctx := context.Background()

	tx, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "300", "reset"))
	assert.Equal(t, apperrors.KindConnectorTimeout, apperrors.KindOf(err))
	assert.Equal(t, models.StatusReserved, tx.Status)
	assertDecimal(t, "700", h.balance(t, "alice", "PHP"))

	failed, err := h.svc.ResolveSettlement(ctx, tx.ID, settlement.Result{Status: settlement.StatusFailed, Detail: "expired"})
	assert.Equal(t, apperrors.KindConnectorFailure, apperrors.KindOf(err))
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "expired", *failed.FailureReason)
	assertDecimal(t, "1000", h.balance(t, "alice", "PHP"))
}

func TestSubmitCashMovement_PendingThenSettled(t *testing.T) {
	h := newHarness(t)
	h.rail.Script(settlement.Outcome{Status: settlement.StatusPending})
	ctx := context.Background()

	tx, err := h.svc.SubmitCashMovement(ctx, cash(DirectionIn, "100", "pending"))
	assert.ErrorIs(t, err, apperrors.ErrSettlementPending)
	assert.Equal(t, models.StatusSettling, tx.Status)
	require.NotNil(t, tx.ExternalReference)
	assertDecimal(t, "0", h.balance(t, "alice", "PHP"))

	// Still pending at the rail: nothing changes.
	res, err := h.rail.QueryStatus(ctx, *tx.ExternalReference)
	require.NoError(t, err)
	same, err := h.svc.ResolveSettlement(ctx, tx.ID, res)
	assert.ErrorIs(t, err, apperrors.ErrSettlementPending)
	assert.Equal(t, models.StatusSettling, same.Status)

	require.NoError(t, h.rail.Settle(*tx.ExternalReference, settlement.StatusSuccess, ""))
	res, err = h.rail.QueryStatus(ctx, *tx.ExternalReference)
	require.NoError(t, err)
	done, err := h.svc.ResolveSettlement(ctx, tx.ID, res)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assertDecimal(t, "99", h.balance(t, "alice", "PHP"))

	// A late duplicate confirmation is a no-op.
	again, err := h.svc.ResolveSettlement(ctx, tx.ID, res)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assertDecimal(t, "99", h.balance(t, "alice", "PHP"))
}

func TestSubmitCashMovement_UnsettledHoldsCountTowardLimit(t *testing.T) {
	h := newHarness(t, withCaps("500", "5000"))
	h.fund(t, "alice", "PHP", "2000")
	h.rail.Script(settlement.Outcome{Status: settlement.StatusPending})
	ctx := context.Background()

	first, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "400", "hold-a"))
	assert.ErrorIs(t, err, apperrors.ErrSettlementPending)
	require.Equal(t, models.StatusSettling, first.Status)

	second, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "400", "hold-b"))
	de, ok := apperrors.As(err)
	require.True(t, ok, err)
	assert.Equal(t, apperrors.CodeDailyLimitExceeded, de.Code)
	assert.Equal(t, "400", de.Details["used"])
	assert.Equal(t, models.StatusFailed, second.Status)
	assert.Equal(t, 1, h.rail.Submissions())
	assertDecimal(t, "1600", h.balance(t, "alice", "PHP"))

	// A failed hold stops counting once its funds are released.
	require.NoError(t, h.rail.Settle(*first.ExternalReference, settlement.StatusFailed, "declined"))
	res, err := h.rail.QueryStatus(ctx, *first.ExternalReference)
	require.NoError(t, err)
	failed, _ := h.svc.ResolveSettlement(ctx, first.ID, res)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assertDecimal(t, "2000", h.balance(t, "alice", "PHP"))

	third, err := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "400", "hold-c"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, third.Status)
	assertDecimal(t, "1600", h.balance(t, "alice", "PHP"))
}

func TestResolveSettlement_AmountMismatchStaysSettling(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	h.rail.Script(settlement.Outcome{Err: errors.New("gateway timeout")})
	ctx := context.Background()

	tx, _ := h.svc.SubmitCashMovement(ctx, cash(DirectionOut, "100", "mismatch"))
	require.Equal(t, models.StatusReserved, tx.Status)

	got, err := h.svc.ResolveSettlement(ctx, tx.ID, settlement.Result{
		ExternalRef: "rail-1",
		Status:      settlement.StatusSuccess,
		Amount:      dec("50"),
	})
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConnectorTimeout, de.Kind)
	assert.Equal(t, apperrors.CodeAmountMismatch, de.Details["reason"])
	assert.Equal(t, models.StatusSettling, got.Status)
	assertDecimal(t, "900", h.balance(t, "alice", "PHP"))
}

func TestSubmitCashMovement_KycRequired(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "dave", "PHP", "1000")

	req := cash(DirectionOut, "100", "kyc")
	req.UserID = "dave"
	tx, err := h.svc.SubmitCashMovement(context.Background(), req)
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindKycRequired, de.Kind)
	assert.Equal(t, kyc.TierBasic, de.Details["required"])
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Zero(t, h.rail.Submissions())
	assertDecimal(t, "1000", h.balance(t, "dave", "PHP"))

	// Cash-in needs no verification.
	req = cash(DirectionIn, "100", "kyc-in")
	req.UserID = "dave"
	_, err = h.svc.SubmitCashMovement(context.Background(), req)
	require.NoError(t, err)
}

func TestSubmitCashMovement_Validation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")

	tests := []struct {
		name   string
		mutate func(*CashRequest)
		code   string
	}{
		{"direction", func(r *CashRequest) { r.Direction = "sideways" }, apperrors.CodeInvalidDirection},
		{"manual", func(r *CashRequest) { r.Method = ManualMethod }, apperrors.CodeUnknownMethod},
		{"unknown method", func(r *CashRequest) { r.Method = "carrier_pigeon" }, apperrors.CodeUnknownMethod},
		{"missing method", func(r *CashRequest) { r.Method = "" }, apperrors.CodeMissingField},
		{"amount", func(r *CashRequest) { r.Amount = dec("-5") }, apperrors.CodeInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cash(DirectionOut, "10", "v-"+tt.name)
			tt.mutate(&req)
			_, err := h.svc.SubmitCashMovement(context.Background(), req)
			de, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, de.Code)
		})
	}
	assert.Zero(t, h.rail.Submissions())
}

func TestSubmitCashMovement_LockedWallet(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "1000")
	require.NoError(t, h.store.SetStatus(context.Background(), wallet.Key{UserID: "alice", Currency: "PHP"}, models.WalletStatusLocked))

	tx, err := h.svc.SubmitCashMovement(context.Background(), cash(DirectionOut, "10", "locked"))
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeWalletLocked, de.Code)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assertDecimal(t, "1000", h.balance(t, "alice", "PHP"))
}

func TestCreditManual(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tx, err := h.svc.CreditManual(ctx, "erin", "php", dec("250"), "opening balance", "seed-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, ManualMethod, tx.Method)

	again, err := h.svc.CreditManual(ctx, "erin", "PHP", dec("250"), "opening balance", "seed-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assertDecimal(t, "250", h.balance(t, "erin", "PHP"))
}

func TestCancel_TerminalRecordRefused(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "100")
	tx, err := h.svc.SubmitTransfer(context.Background(), transfer("alice", "bob", "10", "c"))
	require.NoError(t, err)

	got, err := h.svc.Cancel(context.Background(), tx.ID)
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidTransition, de.Code)
	assert.Equal(t, models.StatusCompleted, got.Status)

	h.fund(t, "alice", "PHP", "500")
	h.rail.Script(settlement.Outcome{Status: settlement.StatusPending})
	held, err := h.svc.SubmitCashMovement(context.Background(), cash(DirectionOut, "50", "held"))
	assert.ErrorIs(t, err, apperrors.ErrSettlementPending)
	got, err = h.svc.Cancel(context.Background(), held.ID)
	de, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidTransition, de.Code)
	assert.Equal(t, models.StatusSettling, got.Status)
	assertDecimal(t, "540", h.balance(t, "alice", "PHP"))

	_, err = h.svc.Cancel(context.Background(), "missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestGetWallet(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "alice", "PHP", "42")

	w, err := h.svc.GetWallet(context.Background(), "alice", "php")
	require.NoError(t, err)
	assertDecimal(t, "42", w.Balance)

	_, err = h.svc.GetWallet(context.Background(), "alice", "USD")
	de, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeWalletNotFound, de.Code)
}
