// Package money holds monetary amounts as int64 counts of kobo so that
// balances never pass through binary floating point.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// KoboPerNaira is the number of minor units in one naira.
const KoboPerNaira = 100

var (
	ErrTooPrecise = errors.New("amount has more than two decimal places")
	ErrOverflow   = errors.New("amount out of range")
)

var (
	koboPerNaira = decimal.NewFromInt(KoboPerNaira)
	maxAmount    = decimal.NewFromInt(math.MaxInt64)
	minAmount    = decimal.NewFromInt(math.MinInt64)
)

// Amount is a signed number of kobo.
type Amount int64

// Naira converts a whole naira value to an Amount.
func Naira(n int64) Amount {
	return Amount(n * KoboPerNaira)
}

// FromDecimal converts a naira value such as 1000.50 to kobo.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	kobo := d.Mul(koboPerNaira)
	if !kobo.Equal(kobo.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if kobo.GreaterThan(maxAmount) || kobo.LessThan(minAmount) {
		return 0, ErrOverflow
	}
	return Amount(kobo.IntPart()), nil
}

// Parse reads a naira value written in decimal notation.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Decimal returns the amount in naira.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

func (a Amount) Neg() Amount { return -a }

func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

func (a Amount) IsPositive() bool { return a > 0 }

// MarshalJSON writes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
