package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paysa/internal/models"
	"paysa/internal/repositories"

	"github.com/shopspring/decimal"
)

// GormStore implements Store on Postgres through the wallet repository.
type GormStore struct {
	repo repositories.WalletRepository
	now  func() time.Time
}

func NewGormStore(repo repositories.WalletRepository) *GormStore {
	if repo == nil {
		panic("repo is required")
	}
	return &GormStore{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormStore) Atomically(ctx context.Context, op Op) error {
	if err := validateOp(op); err != nil {
		return err
	}
	muts, err := normalize(op.Mutations)
	if err != nil {
		return err
	}

	err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.WalletRepository) error {
		var stored *models.Transaction
		if !op.Create {
			var err error
			stored, err = tx.LockTransaction(ctx, op.Record.ID)
			if err != nil {
				return err
			}
		}

		wallets := make(map[Key]*models.Wallet, len(muts))
		for _, m := range muts {
			if m.CreateIfMissing {
				if err := tx.CreateIfMissing(ctx, m.Key.UserID, m.Key.Currency); err != nil {
					return err
				}
			}
			w, err := tx.GetForUpdate(ctx, m.Key.UserID, m.Key.Currency)
			if err != nil {
				if errors.Is(err, repositories.ErrWalletNotFound) {
					return fmt.Errorf("%w: %s", ErrWalletNotFound, m.Key)
				}
				return err
			}
			wallets[m.Key] = w
		}

		if op.Guard != nil {
			view := &lockedView{wallets: wallets, stored: stored, usage: tx.Usage}
			if err := op.Guard(ctx, view); err != nil {
				return err
			}
		}

		next := make(map[Key]decimal.Decimal, len(muts))
		for _, m := range muts {
			w := wallets[m.Key]
			balance := w.Balance.Add(m.Delta)
			if balance.IsNegative() {
				return insufficient(w, m.Delta)
			}
			next[m.Key] = balance
		}

		for _, m := range muts {
			if m.Delta.IsZero() {
				continue
			}
			w := wallets[m.Key]
			w.Balance = next[m.Key]
			if err := tx.Update(ctx, w); err != nil {
				return err
			}
		}

		op.Record.UpdatedAt = s.now()
		if op.Create {
			if op.Record.CreatedAt.IsZero() {
				op.Record.CreatedAt = op.Record.UpdatedAt
			}
			return tx.CreateTransaction(ctx, op.Record)
		}
		return tx.UpdateTransaction(ctx, op.Record)
	})
	return translate(err)
}

func (s *GormStore) GetWallet(ctx context.Context, key Key) (*models.Wallet, error) {
	w, err := s.repo.GetByOwner(ctx, key.UserID, key.Currency)
	return w, translate(err)
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, id)
	return tx, translate(err)
}

func (s *GormStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	tx, err := s.repo.FindByIdempotencyKey(ctx, userID, key)
	return tx, translate(err)
}

func (s *GormStore) ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error) {
	txs, err := s.repo.ListByStatus(ctx, statuses, olderThan, limit)
	return txs, translate(err)
}

func (s *GormStore) SetStatus(ctx context.Context, key Key, status string) error {
	if err := validStatus(status); err != nil {
		return err
	}
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.WalletRepository) error {
		w, err := tx.GetForUpdate(ctx, key.UserID, key.Currency)
		if err != nil {
			return err
		}
		w.Status = status
		return tx.Update(ctx, w)
	})
	return translate(err)
}

// translate maps repository sentinels onto store sentinels and leaves everything else as is.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, repositories.ErrConflict), errors.Is(err, repositories.ErrNegativeBalance):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repositories.ErrWalletNotFound):
		return ErrWalletNotFound
	case errors.Is(err, repositories.ErrTransactionNotFound):
		return ErrTransactionNotFound
	}
	return err
}
