package fx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"paysa/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const table = `
dates:
  "2026-10-13":
    USD/PHP: "56.10"
    USD/KRW: "1385.20"
  "2026-10-14":
    USD/PHP: "56.25"
    EUR/USD: "1.08"
`

func TestStaticSource_GetRate(t *testing.T) {
	src, err := Parse([]byte(table))
	require.NoError(t, err)

	today := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	other := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		date     time.Time
		from, to string
		want     string
		wantErr  bool
	}{
		{name: "same day", date: today, from: "USD", to: "PHP", want: "56.25"},
		{name: "each day has its own rate", date: other, from: "usd", to: "php", want: "56.1"},
		{name: "inverse pair", date: today, from: "USD", to: "EUR", want: "0.9259259259"},
		{name: "same currency", date: other, from: "PHP", to: "PHP", want: "1"},
		{name: "unknown pair", date: today, from: "PHP", to: "SGD", wantErr: true},
		{name: "published only on an earlier day", date: today, from: "USD", to: "KRW", wantErr: true},
		{name: "published only on a later day", date: other, from: "EUR", to: "USD", wantErr: true},
		{name: "day without a table", date: today.AddDate(0, 0, 1), from: "USD", to: "PHP", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.GetRate(context.Background(), tt.date, tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRateUnavailable)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), got.String())
		})
	}
}

func TestParse_RejectsBadTables(t *testing.T) {
	for name, doc := range map[string]string{
		"bad pair":        "dates:\n  \"2026-10-14\":\n    USDPHP: \"1\"\n",
		"zero rate":       "dates:\n  \"2026-10-14\":\n    USD/PHP: \"0\"\n",
		"bad date":        "dates:\n  yesterday:\n    USD/PHP: \"1\"\n",
		"undated section": "default:\n  USD/PHP: \"56.10\"\n",
		"invalid yaml":    "dates: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	args := m.Called(key)
	if v := args.String(2); v != "" {
		_ = json.Unmarshal([]byte(v), dest)
	}
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(key, value, ttl).Error(0)
}

func TestCachedSource(t *testing.T) {
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	key := "fx:2026-10-14:USD:PHP"

	t.Run("hit skips source", func(t *testing.T) {
		cache := new(MockCache)
		cache.On("Get", key).Return(true, nil, `"56.3"`)
		c := NewCachedSource(NewStaticSource(), cache, time.Hour, logger.Discard())

		got, err := c.GetRate(context.Background(), day, "USD", "PHP")
		require.NoError(t, err)
		assert.Equal(t, "56.3", got.String())
		cache.AssertExpectations(t)
	})

	t.Run("miss fills cache", func(t *testing.T) {
		src := NewStaticSource()
		src.SetForDate(day, "USD", "PHP", decimal.RequireFromString("56.1"))
		cache := new(MockCache)
		cache.On("Get", key).Return(false, nil, "")
		cache.On("SetWithTTL", key, "56.1", time.Hour).Return(nil)
		c := NewCachedSource(src, cache, time.Hour, logger.Discard())

		got, err := c.GetRate(context.Background(), day, "USD", "PHP")
		require.NoError(t, err)
		assert.Equal(t, "56.1", got.String())
		cache.AssertExpectations(t)
	})

	t.Run("cache outage falls through", func(t *testing.T) {
		src := NewStaticSource()
		src.SetForDate(day, "USD", "PHP", decimal.RequireFromString("56.2"))
		cache := new(MockCache)
		cache.On("Get", key).Return(false, errors.New("connection refused"), "")
		cache.On("SetWithTTL", key, "56.2", time.Hour).Return(errors.New("connection refused"))
		c := NewCachedSource(src, cache, time.Hour, logger.Discard())

		got, err := c.GetRate(context.Background(), day, "USD", "PHP")
		require.NoError(t, err)
		assert.Equal(t, "56.2", got.String())
	})

	t.Run("missing rate is not cached", func(t *testing.T) {
		cache := new(MockCache)
		cache.On("Get", key).Return(false, nil, "")
		c := NewCachedSource(NewStaticSource(), cache, time.Hour, logger.Discard())

		_, err := c.GetRate(context.Background(), day, "USD", "PHP")
		assert.ErrorIs(t, err, ErrRateUnavailable)
		cache.AssertNotCalled(t, "SetWithTTL", mock.Anything, mock.Anything, mock.Anything)
	})
}
