package wallet

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	apperrors "paysa/internal/errors"
	"paysa/internal/models"

	"github.com/shopspring/decimal"
)

// Key identifies a wallet.
type Key struct {
	UserID   string
	Currency string
}

func (k Key) String() string {
	return k.UserID + "/" + k.Currency
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	return cmp.Compare(a.Currency, b.Currency)
}

// Mutation is one balance delta. A zero Delta still locks the wallet.
type Mutation struct {
	Key             Key
	Delta           decimal.Decimal
	CreateIfMissing bool
}

// View is what a Guard sees while the Op's locks are held.
type View interface {
	// Wallet returns the locked wallet for key, or nil if it does not exist yet.
	Wallet(key Key) *models.Wallet
	// Stored returns the locked persisted version of Op.Record, or nil on create.
	Stored() *models.Transaction
	// Usage sums source amounts of userID's spend records in currency with created_at in [from, to].
	// Unsettled cash-out holds count; cash-ins never do.
	Usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error)
}

// Op is one all-or-nothing unit of work.
type Op struct {
	Mutations []Mutation
	// Guard runs after all locks are acquired and before any write. A non-nil
	// error aborts the Op and is returned unchanged.
	Guard  func(ctx context.Context, v View) error
	Record *models.Transaction
	// Create inserts Record; otherwise Record replaces the stored non-terminal row.
	Create bool
}

// Store is the atomic read-modify-write primitive over wallets and the ledger.
type Store interface {
	Atomically(ctx context.Context, op Op) error
	GetWallet(ctx context.Context, key Key) (*models.Wallet, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error)
	ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error)
	// SetStatus locks or unlocks an existing wallet. Balances are untouched.
	SetStatus(ctx context.Context, key Key, status string) error
}

// normalize merges duplicate keys and returns mutations in lock order.
func normalize(muts []Mutation) ([]Mutation, error) {
	merged := make(map[Key]Mutation, len(muts))
	for _, m := range muts {
		if m.Key.UserID == "" || m.Key.Currency == "" {
			return nil, fmt.Errorf("%w: empty wallet key", ErrInvalidOp)
		}
		cur, ok := merged[m.Key]
		if !ok {
			merged[m.Key] = m
			continue
		}
		cur.Delta = cur.Delta.Add(m.Delta)
		cur.CreateIfMissing = cur.CreateIfMissing || m.CreateIfMissing
		merged[m.Key] = cur
	}
	out := make([]Mutation, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Mutation) int { return compareKeys(a.Key, b.Key) })
	return out, nil
}

func validStatus(status string) error {
	switch status {
	case models.WalletStatusActive, models.WalletStatusLocked:
		return nil
	}
	return fmt.Errorf("%w: wallet status %q", ErrInvalidOp, status)
}

func validateOp(op Op) error {
	if op.Record == nil {
		return fmt.Errorf("%w: record is required", ErrInvalidOp)
	}
	if op.Record.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidOp)
	}
	return nil
}

// insufficient builds the error returned when a delta would overdraw w.
func insufficient(w *models.Wallet, delta decimal.Decimal) error {
	return apperrors.ErrInsufficientBalance.
		With("currency", w.Currency).
		With("balance", w.Balance.String()).
		With("requested", delta.Neg().String())
}

// lockedView is the View shared by both store implementations.
type lockedView struct {
	wallets map[Key]*models.Wallet
	stored  *models.Transaction
	usage   func(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error)
}

func (v *lockedView) Wallet(key Key) *models.Wallet {
	w, ok := v.wallets[key]
	if !ok || w == nil {
		return nil
	}
	cp := *w
	return &cp
}

func (v *lockedView) Stored() *models.Transaction {
	if v.stored == nil {
		return nil
	}
	return v.stored.Clone()
}

func (v *lockedView) Usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error) {
	return v.usage(ctx, userID, currency, from, to)
}
