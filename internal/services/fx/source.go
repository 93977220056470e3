// Package fx supplies same-day conversion rates between currency pairs.
//
// Only a rate published for the request day is served. A missing rate is
// never defaulted or carried over from another day; callers receive
// ErrRateUnavailable and must reject the request.
package fx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DateLayout is how rate tables and cache keys name a day.
const DateLayout = "2006-01-02"

// inversePlaces bounds the precision of a rate derived from its inverse pair.
const inversePlaces = 10

var (
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	ErrInvalidTable    = errors.New("invalid rate table")
)

// RateSource returns how many units of to one unit of from buys on date.
type RateSource interface {
	GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error)
}

// Table is the on-disk rate file. Pairs are written "USD/PHP" and every
// rate belongs to exactly one day.
//
//	dates:
//	  "2026-10-14":
//	    USD/PHP: "56.25"
type Table struct {
	Dates map[string]map[string]string `yaml:"dates"`
}

type pair struct{ from, to string }

// StaticSource serves rates from an in-memory table keyed by day.
type StaticSource struct {
	mu    sync.RWMutex
	dated map[string]map[pair]decimal.Decimal
}

func NewStaticSource() *StaticSource {
	return &StaticSource{dated: make(map[string]map[pair]decimal.Decimal)}
}

// LoadFile reads a YAML rate table from path.
func LoadFile(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate table: %w", err)
	}
	return Parse(data)
}

// Parse builds a StaticSource from YAML bytes. Unknown sections are rejected.
func Parse(data []byte) (*StaticSource, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	s := NewStaticSource()
	for day, rates := range t.Dates {
		if _, err := time.Parse(DateLayout, day); err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrInvalidTable, day)
		}
		for name, rate := range rates {
			if err := s.set(day, name, rate); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *StaticSource) set(day, name, raw string) error {
	from, to, ok := strings.Cut(name, "/")
	if !ok || from == "" || to == "" {
		return fmt.Errorf("%w: pair %q", ErrInvalidTable, name)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !rate.IsPositive() {
		return fmt.Errorf("%w: rate %q for %s", ErrInvalidTable, raw, name)
	}
	p := pair{strings.ToUpper(from), strings.ToUpper(to)}
	if s.dated[day] == nil {
		s.dated[day] = make(map[pair]decimal.Decimal)
	}
	s.dated[day][p] = rate
	return nil
}

// SetForDate registers a rate for a single day.
func (s *StaticSource) SetForDate(date time.Time, from, to string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := date.Format(DateLayout)
	if s.dated[day] == nil {
		s.dated[day] = make(map[pair]decimal.Decimal)
	}
	s.dated[day][pair{strings.ToUpper(from), strings.ToUpper(to)}] = rate
}

func (s *StaticSource) GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.Format(DateLayout)
	table := s.dated[day]
	if rate, ok := table[pair{from, to}]; ok {
		return rate, nil
	}
	if inv, ok := table[pair{to, from}]; ok {
		return decimal.NewFromInt(1).DivRound(inv, inversePlaces), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s on %s", ErrRateUnavailable, from, to, day)
}
