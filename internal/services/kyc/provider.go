// Package kyc reads a user's verified identity tier. Document capture and
// review happen elsewhere; the ledger only consumes the outcome.
package kyc

import (
	"context"
	"fmt"
	"sync"

	"paysa/internal/models"

	"gorm.io/gorm"
)

// Tiers
const (
	TierNone     = 0
	TierBasic    = 1
	TierVerified = 2
	TierFull     = 3
)

// Provider returns the highest approved tier for a user, TierNone when unverified.
type Provider interface {
	GetTier(ctx context.Context, userID string) (int, error)
}

// GormProvider reads approved rows from kyc_verifications.
type GormProvider struct {
	db *gorm.DB
}

func NewGormProvider(db *gorm.DB) *GormProvider {
	if db == nil {
		panic("db is required")
	}
	return &GormProvider{db: db}
}

func (p *GormProvider) GetTier(ctx context.Context, userID string) (int, error) {
	var tier int
	err := p.db.WithContext(ctx).
		Model(&models.KYCVerification{}).
		Where("user_id = ? AND status = ?", userID, models.KYCStatusApproved).
		Select("COALESCE(MAX(tier), 0)").
		Row().
		Scan(&tier)
	if err != nil {
		return TierNone, fmt.Errorf("failed to read kyc tier: %w", err)
	}
	return tier, nil
}

// StaticProvider serves tiers from memory. Unknown users are unverified.
type StaticProvider struct {
	mu    sync.RWMutex
	tiers map[string]int
}

func NewStaticProvider(tiers map[string]int) *StaticProvider {
	cp := make(map[string]int, len(tiers))
	for k, v := range tiers {
		cp[k] = v
	}
	return &StaticProvider{tiers: cp}
}

func (p *StaticProvider) GetTier(ctx context.Context, userID string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tiers[userID], nil
}

// Set changes a user's tier.
func (p *StaticProvider) Set(userID string, tier int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiers[userID] = tier
}
