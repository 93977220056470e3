// Package money holds currency precision rules and decimal helpers.
//
// All monetary values in the ledger are shopspring decimals rounded to the
// currency's minor unit. Binary floating point never touches an amount.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositive   = errors.New("amount must be positive")
	ErrTooPrecise    = errors.New("amount has more decimal places than the currency allows")
	ErrUnknownFormat = errors.New("amount is not a decimal number")
)

// DefaultPlaces is used for any currency not listed in places.
const DefaultPlaces int32 = 2

var places = map[string]int32{
	"KRW": 0,
	"JPY": 0,
	"VND": 0,
	"IDR": 0,
	"KWD": 3,
	"BHD": 3,
	"OMR": 3,
}

// Places returns the number of minor-unit digits for currency.
func Places(currency string) int32 {
	if p, ok := places[strings.ToUpper(currency)]; ok {
		return p
	}
	return DefaultPlaces
}

// Round rounds d half-up to the currency's minor unit.
func Round(d decimal.Decimal, currency string) decimal.Decimal {
	return d.Round(Places(currency))
}

// MinorUnit is the smallest representable amount in currency, e.g. 0.01 for PHP.
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -Places(currency))
}

// Validate checks that amount is positive and representable in currency.
func Validate(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return ErrNonPositive
	}
	if !amount.Equal(Round(amount, currency)) {
		return fmt.Errorf("%w: %s allows %d", ErrTooPrecise, strings.ToUpper(currency), Places(currency))
	}
	return nil
}

// Parse reads a decimal string and validates it for currency.
func Parse(s, currency string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	if err := Validate(d, currency); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ToMinor converts an amount into integer minor units, as payment rails expect.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return Round(amount, currency).Shift(Places(currency)).IntPart()
}

// FromMinor converts integer minor units back into a decimal amount.
func FromMinor(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -Places(currency))
}

// Format renders amount with exactly the currency's number of decimals.
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Places(currency))
}
