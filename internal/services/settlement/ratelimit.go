package settlement

import (
	"context"
	"fmt"

	"paysa/internal/models"

	"golang.org/x/time/rate"
)

// RateLimited keeps calls to a rail under its published request rate.
// Waiting honours the caller's context, so a slow queue becomes a timeout
// rather than a stuck goroutine.
type RateLimited struct {
	next    Connector
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
func NewRateLimited(next Connector, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Submit(ctx context.Context, tx *models.Transaction) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("settlement rate limit: %w", err)
	}
	return r.next.Submit(ctx, tx)
}

func (r *RateLimited) QueryStatus(ctx context.Context, externalRef string) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("settlement rate limit: %w", err)
	}
	return r.next.QueryStatus(ctx, externalRef)
}
