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

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{
		db: db,
	}
}

func (r *walletRepository) GetByOwner(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, mapError("get wallet", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetForUpdate(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, mapError("lock wallet", err)
	}
	return &wallet, nil
}

func (r *walletRepository) CreateIfMissing(ctx context.Context, userID, currency string) error {
	wallet := &models.Wallet{
		UserID:   userID,
		Currency: currency,
		Balance:  decimal.Zero,
		Status:   models.WalletStatusActive,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(wallet).Error
	return mapError("create wallet", err)
}

func (r *walletRepository) Update(ctx context.Context, wallet *models.Wallet) error {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]any{
			"balance":    wallet.Balance,
			"status":     wallet.Status,
			"version":    wallet.Version + 1,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return mapError("update wallet", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	wallet.Version++
	return nil
}

func (r *walletRepository) ExecuteInTransaction(ctx context.Context, fn func(WalletRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &walletRepository{db: tx}
		return fn(txRepo)
	})
}
