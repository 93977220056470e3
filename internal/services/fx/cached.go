package fx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Cache is the subset of the Redis cache service the rate cache needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedSource memoizes daily rates. Cache failures fall through to the
// wrapped source; they never turn into a rate error.
type CachedSource struct {
	next   RateSource
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedSource(next RateSource, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, cache: cache, ttl: ttl, logger: logger}
}

// CacheKey names the cache entry of one pair on one day.
func CacheKey(date time.Time, from, to string) string {
	return fmt.Sprintf("fx:%s:%s:%s", date.Format(DateLayout), strings.ToUpper(from), strings.ToUpper(to))
}

func (c *CachedSource) GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), nil
	}
	key := CacheKey(date, from, to)

	var cached string
	found, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("fx cache read failed", "key", key, "error", err)
	}
	if found {
		if rate, err := decimal.NewFromString(cached); err == nil && rate.IsPositive() {
			return rate, nil
		}
	}

	rate, err := c.next.GetRate(ctx, date, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.SetWithTTL(ctx, key, rate.String(), c.ttl); err != nil {
		c.logger.Warn("fx cache write failed", "key", key, "error", err)
	}
	return rate, nil
}
