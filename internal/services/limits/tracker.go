// Package limits enforces rolling daily and monthly spending caps.
//
// Usage is recomputed from the ledger on every check by summing the user's
// outgoing transactions in the window, unsettled cash-out holds included.
// Check is only authoritative when it runs inside the atomic scope that moves
// the money, with the user's wallet locked; called anywhere else it is
// advisory.
package limits

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "paysa/internal/errors"

	"github.com/shopspring/decimal"
)

// Windows
const (
	WindowDaily   = "daily"
	WindowMonthly = "monthly"
)

// Caps are the spending caps for one currency. A zero cap disables that window.
type Caps struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

type Config struct {
	Default     Caps
	PerCurrency map[string]Caps
	// Location defines where calendar days and months begin. Defaults to UTC.
	Location *time.Location
}

// UsageReader sums spent source amounts. wallet.View satisfies it.
type UsageReader interface {
	Usage(ctx context.Context, userID, currency string, from, to time.Time) (decimal.Decimal, error)
}

type Tracker struct {
	cfg Config
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PerCurrency == nil {
		cfg.PerCurrency = map[string]Caps{}
	}
	return &Tracker{cfg: cfg}
}

// CapsFor returns the caps applying to currency.
func (t *Tracker) CapsFor(currency string) Caps {
	if c, ok := t.cfg.PerCurrency[strings.ToUpper(currency)]; ok {
		return c
	}
	return t.cfg.Default
}

// StartOfDay is midnight of at's calendar day in the tracker's location.
func (t *Tracker) StartOfDay(at time.Time) time.Time {
	l := at.In(t.cfg.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, t.cfg.Location)
}

// StartOfMonth is midnight of the first day of at's month in the tracker's location.
func (t *Tracker) StartOfMonth(at time.Time) time.Time {
	l := at.In(t.cfg.Location)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, t.cfg.Location)
}

// Check fails with LimitExceeded when used+amount would pass a cap. Reaching a cap exactly is allowed.
func (t *Tracker) Check(ctx context.Context, r UsageReader, userID, currency string, amount decimal.Decimal, at time.Time) error {
	caps := t.CapsFor(currency)

	windows := []struct {
		name string
		code string
		from time.Time
		cap  decimal.Decimal
	}{
		{WindowDaily, apperrors.CodeDailyLimitExceeded, t.StartOfDay(at), caps.Daily},
		{WindowMonthly, apperrors.CodeMonthlyLimitExceeded, t.StartOfMonth(at), caps.Monthly},
	}

	for _, w := range windows {
		if !w.cap.IsPositive() {
			continue
		}
		used, err := r.Usage(ctx, userID, currency, w.from, at)
		if err != nil {
			return fmt.Errorf("failed to check %s limit: %w", w.name, err)
		}
		projected := used.Add(amount)
		if projected.GreaterThan(w.cap) {
			return exceeded(w.name, w.code, currency, used, w.cap, amount, projected.Sub(w.cap))
		}
	}
	return nil
}

func exceeded(window, code, currency string, used, limit, requested, excess decimal.Decimal) error {
	return apperrors.New(apperrors.KindLimitExceeded, code,
		fmt.Sprintf("%s limit of %s %s exceeded by %s", window, limit.String(), currency, excess.String())).
		With("window", window).
		With("currency", currency).
		With("used", used.String()).
		With("cap", limit.String()).
		With("requested", requested.String()).
		With("excess", excess.String())
}
