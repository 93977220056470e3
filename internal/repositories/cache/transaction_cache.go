package cache

import (
	"context"
	"log/slog"
	"time"

	"paysa/internal/models"
)

// Store is the part of CacheService the typed caches need.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
}

// TransactionCache keeps terminal ledger records for point lookups.
// Terminal records never change, so entries are never invalidated.
type TransactionCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewTransactionCache(store Store, ttl time.Duration, logger *slog.Logger) *TransactionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionCache{store: store, ttl: ttl, logger: logger}
}

func transactionKey(id string) string {
	return GenerateKey("transaction", "id", id)
}

func (c *TransactionCache) GetTransaction(ctx context.Context, id string) (*models.Transaction, bool) {
	var tx models.Transaction
	ok, err := c.store.Get(ctx, transactionKey(id), &tx)
	if err != nil {
		c.logger.WarnContext(ctx, "transaction cache read failed", "transaction_id", id, "error", err)
		return nil, false
	}
	if !ok || !tx.Terminal() {
		return nil, false
	}
	return &tx, true
}

func (c *TransactionCache) SetTransaction(ctx context.Context, tx *models.Transaction) {
	if !tx.Terminal() {
		return
	}
	if err := c.store.SetWithTTL(ctx, transactionKey(tx.ID), tx, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "transaction cache write failed", "transaction_id", tx.ID, "error", err)
	}
}
