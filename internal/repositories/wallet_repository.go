package repositories

import (
	"context"
	"time"

	"paysa/internal/models"

	"github.com/shopspring/decimal"
)

// WalletRepository defines the database operations behind the wallet store.
// Every method runs on the repository's handle, which is a database transaction
// inside ExecuteInTransaction.
type WalletRepository interface {
	// Wallet operations
	GetByOwner(ctx context.Context, userID, currency string) (*models.Wallet, error)
	GetForUpdate(ctx context.Context, userID, currency string) (*models.Wallet, error)
	CreateIfMissing(ctx context.Context, userID, currency string) error
	Update(ctx context.Context, wallet *models.Wallet) error

	// Transaction record operations
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	LockTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error)
	ListByStatus(ctx context.Context, statuses []string, olderThan time.Time, limit int) ([]models.Transaction, error)

	// Usage sums the source amounts of userID's spend records (models.IsSpend) in currency with created_at in [from, to].
	Usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error)

	ExecuteInTransaction(ctx context.Context, fn func(WalletRepository) error) error
}
