// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents; decimal arithmetic is only used at the
// edges, when parsing input and when dividing for averages.
package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64 / 2)
)

// ParseAmount converts a decimal string to Money with half-up rounding on
// the third decimal place.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Negative
// values parse; rejecting them is Record.Validate's job.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234 cents
//	ParseAmount("12,345") -> 1235 cents
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return moneyFromDecimal(d)
}

// AmountFromFloat converts a float as delivered by JSON decoders.
func AmountFromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Money{}, ErrInvalidAmount
	}
	return moneyFromDecimal(decimal.NewFromFloat(f))
}

// AmountFromInt converts a whole number of currency units.
func AmountFromInt(units int64) (Money, error) {
	return moneyFromDecimal(decimal.NewFromInt(units))
}

func moneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred).Round(0)
	if cents.Abs().GreaterThan(maxCents) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Units returns the amount as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// String formats the amount with two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// DivRound divides m by n and rounds half-up to the cent. Dividing by zero
// yields zero.
func (m Money) DivRound(n int64) Money {
	if n == 0 {
		return Money{}
	}
	q := decimal.NewFromInt(m.Cents).Div(decimal.NewFromInt(n)).Round(0)
	return Money{Cents: q.IntPart()}
}

// MarshalJSON writes the amount as a fixed two-decimal number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := ParseAmount(s)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", s, err)
	}
	*m = v
	return nil
}
