package wallet

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"paysa/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. Each wallet and each stored record has
// its own lock; data maps are guarded by a single RWMutex held only briefly.
type MemoryStore struct {
	locksMu sync.Mutex
	locks   map[string]chan struct{}

	mu      sync.RWMutex
	wallets map[Key]*models.Wallet
	records map[string]*models.Transaction
	idem    map[string]string
	nextID  uint

	now func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		locks:   make(map[string]chan struct{}),
		wallets: make(map[Key]*models.Wallet),
		records: make(map[string]*models.Transaction),
		idem:    make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func idemKey(userID, key string) string {
	return userID + "\x00" + key
}

func (s *MemoryStore) lockFor(name string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[name] = ch
	}
	return ch
}

// acquire takes the named locks in order and returns a release func.
func (s *MemoryStore) acquire(ctx context.Context, names []string) (func(), error) {
	held := make([]chan struct{}, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, name := range names {
		ch := s.lockFor(name)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %v", ErrConflict, ctx.Err())
		}
	}
	return release, nil
}

func (s *MemoryStore) Atomically(ctx context.Context, op Op) error {
	if err := validateOp(op); err != nil {
		return err
	}
	muts, err := normalize(op.Mutations)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(muts)+1)
	if !op.Create {
		names = append(names, "tx:"+op.Record.ID)
	}
	for _, m := range muts {
		names = append(names, "wallet:"+m.Key.String())
	}
	release, err := s.acquire(ctx, names)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	var stored *models.Transaction
	if !op.Create {
		rec, ok := s.records[op.Record.ID]
		if !ok {
			s.mu.RUnlock()
			return ErrTransactionNotFound
		}
		stored = rec.Clone()
	}
	wallets := make(map[Key]*models.Wallet, len(muts))
	for _, m := range muts {
		w, ok := s.wallets[m.Key]
		switch {
		case ok:
			cp := *w
			wallets[m.Key] = &cp
		case m.CreateIfMissing:
			wallets[m.Key] = &models.Wallet{
				UserID:   m.Key.UserID,
				Currency: m.Key.Currency,
				Balance:  decimal.Zero,
				Status:   models.WalletStatusActive,
			}
		default:
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrWalletNotFound, m.Key)
		}
	}
	s.mu.RUnlock()

	if op.Guard != nil {
		view := &lockedView{wallets: wallets, stored: stored, usage: s.usage}
		if err := op.Guard(ctx, view); err != nil {
			return err
		}
	}

	for _, m := range muts {
		w := wallets[m.Key]
		balance := w.Balance.Add(m.Delta)
		if balance.IsNegative() {
			return insufficient(w, m.Delta)
		}
		w.Balance = balance
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := op.Record.Clone()
	rec.UpdatedAt = now
	if op.Create {
		if _, dup := s.records[rec.ID]; dup {
			return fmt.Errorf("%w: id %s", ErrDuplicate, rec.ID)
		}
		if _, dup := s.idem[idemKey(rec.UserID, rec.IdempotencyKey)]; dup {
			return fmt.Errorf("%w: key %s", ErrDuplicate, rec.IdempotencyKey)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
	} else {
		cur := s.records[rec.ID]
		if cur.Terminal() {
			return fmt.Errorf("%w: transaction %s is %s", ErrConflict, rec.ID, cur.Status)
		}
		rec.CreatedAt = cur.CreatedAt
		rec.IdempotencyKey = cur.IdempotencyKey
		rec.RequestHash = cur.RequestHash
		rec.UserID = cur.UserID
	}

	for _, m := range muts {
		w := wallets[m.Key]
		existing, ok := s.wallets[m.Key]
		if !ok {
			s.nextID++
			w.ID = s.nextID
			w.CreatedAt = now
			w.UpdatedAt = now
			s.wallets[m.Key] = w
			continue
		}
		if m.Delta.IsZero() {
			continue
		}
		existing.Balance = w.Balance
		existing.Version++
		existing.UpdatedAt = now
	}

	s.records[rec.ID] = rec
	s.idem[idemKey(rec.UserID, rec.IdempotencyKey)] = rec.ID
	op.Record.CreatedAt = rec.CreatedAt
	op.Record.UpdatedAt = rec.UpdatedAt
	return nil
}

// usage must be called while the caller holds the wallet lock for (userID, currency).
func (s *MemoryStore) usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, rec := range s.records {
		if rec.UserID != userID || rec.SourceCurrency != currency || !rec.IsSpend() {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		total = total.Add(rec.SourceAmount)
	}
	return total, nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, key Key) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[key]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idem[idemKey(userID, key)]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, rec := range s.records {
		if !slices.Contains(statuses, rec.Status) || rec.UpdatedAt.After(olderThan) {
			continue
		}
		out = append(out, *rec.Clone())
	}
	slices.SortFunc(out, func(a, b models.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, key Key, status string) error {
	if err := validStatus(status); err != nil {
		return err
	}
	release, err := s.acquire(ctx, []string{"wallet:" + key.String()})
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[key]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	w.Version++
	w.UpdatedAt = s.now()
	return nil
}

// Wallets returns a snapshot of every wallet. Intended for tests and diagnostics.
func (s *MemoryStore) Wallets() []models.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, *w)
	}
	return out
}
