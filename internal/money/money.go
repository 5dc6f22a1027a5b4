// Package money implements fixed-point amounts in a currency's smallest unit.
//
// All arithmetic is integer-only and checked: a result that would overflow
// int64 or go below zero is reported as an error instead of wrapping.
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when a result does not fit in an Amount.
var ErrOverflow = errors.New("money: arithmetic overflow")

// ErrNegative is returned when an operation would produce a negative amount.
var ErrNegative = errors.New("money: negative amount")

// ErrPrecision is returned when a decimal has more fractional digits than the
// currency supports.
var ErrPrecision = errors.New("money: too many decimal places")

// Amount is a non-negative quantity in the smallest currency unit
// (e.g. 1 USDC = 1_000_000 with 6 decimals).
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// Int64 returns the raw unit count.
func (a Amount) Int64() int64 { return int64(a) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Add returns a+b, failing on overflow or negative operands.
func (a Amount) Add(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrNegative, a, b)
	}
	return a - b, nil
}

// Sum adds all amounts with overflow checking.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MulDiv returns floor(a * num / den) computed with a 128-bit-safe
// intermediate, so a*num may exceed int64 as long as the quotient fits.
func MulDiv(a Amount, num, den int64) (Amount, error) {
	if a < 0 || num < 0 {
		return 0, ErrNegative
	}
	if den <= 0 {
		return 0, fmt.Errorf("money: non-positive divisor %d", den)
	}
	product := new(big.Int).Mul(big.NewInt(int64(a)), big.NewInt(num))
	quotient := new(big.Int).Quo(product, big.NewInt(den))
	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return Amount(quotient.Int64()), nil
}

// Percent applies floor(pool * pct / 100). pct must be in [0,100].
func Percent(pool Amount, pct int) (Amount, error) {
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("money: percentage %d out of range", pct)
	}
	return MulDiv(pool, int64(pct), 100)
}

// Parse converts a decimal string such as "12.5" into smallest units for a
// currency with the given number of decimals.
func Parse(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, ErrNegative
	}
	if d.Exponent() < -decimals && !d.Equal(d.Truncate(decimals)) {
		return 0, fmt.Errorf("%w: %q allows %d", ErrPrecision, s, decimals)
	}
	units := d.Shift(decimals).BigInt()
	if !units.IsInt64() {
		return 0, ErrOverflow
	}
	return Amount(units.Int64()), nil
}

// Format renders an amount as a fixed-point decimal string.
func Format(a Amount, decimals int32) string {
	return decimal.New(int64(a), -decimals).StringFixed(decimals)
}
