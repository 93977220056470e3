package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet statuses
const (
	WalletStatusActive = "active"
	WalletStatusLocked = "locked"
)

// Wallet is a per-user, per-currency balance.
type Wallet struct {
	ID        uint            `gorm:"primarykey" json:"-"`
	UserID    string          `gorm:"size:64;not null;uniqueIndex:idx_wallet_owner" json:"user_id"`
	Currency  string          `gorm:"size:3;not null;uniqueIndex:idx_wallet_owner" json:"currency"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"balance"`
	Status    string          `gorm:"size:16;not null;default:'active'" json:"status"`
	Version   int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.Status == "" {
		w.Status = WalletStatusActive
	}
	return nil
}

// Active reports whether the wallet may take part in money movement.
func (w *Wallet) Active() bool {
	return w.Status == WalletStatusActive
}
