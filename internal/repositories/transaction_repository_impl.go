package repositories

import (
	"context"
	"errors"
	"time"

	"paysa/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *walletRepository) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return mapError("create transaction", r.db.WithContext(ctx).Create(tx).Error)
}

// UpdateTransaction saves tx unless the stored row is already terminal.
func (r *walletRepository) UpdateTransaction(ctx context.Context, tx *models.Transaction) error {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status NOT IN ?", tx.ID, []string{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}).
		Select("*").
		Omit("id", "created_at", "idempotency_key", "request_hash", "user_id").
		Updates(tx)
	if result.Error != nil {
		return mapError("update transaction", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *walletRepository) GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, mapError("get transaction", err)
	}
	return &tx, nil
}

func (r *walletRepository) LockTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, mapError("lock transaction", err)
	}
	return &tx, nil
}

func (r *walletRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, mapError("find transaction by idempotency key", err)
	}
	return &tx, nil
}

func (r *walletRepository) ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at <= ?", statuses, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, mapError("list transactions by status", err)
	}
	return txs, nil
}

func (r *walletRepository) Usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("user_id = ? AND source_currency = ? AND kind IN ? AND status IN ? AND created_at BETWEEN ? AND ?",
			userID, currency, models.SpendKinds, models.SpendStatuses, from, to).
		Select("COALESCE(SUM(source_amount), 0)").
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, mapError("sum transaction usage", err)
	}
	return total, nil
}
