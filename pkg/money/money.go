// Package money holds integer-cent arithmetic and its decimal rendering.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrOverflow is returned when a total no longer fits in int64 cents.
var ErrOverflow = errors.New("money: cents overflow")

// LineTotal returns amount*unitPriceCents, failing instead of wrapping.
func LineTotal(amount int, unitPriceCents int64) (int64, error) {
	if amount < 0 || unitPriceCents < 0 {
		return 0, errors.New("money: negative operand")
	}
	if amount == 0 || unitPriceCents == 0 {
		return 0, nil
	}
	if unitPriceCents > math.MaxInt64/int64(amount) {
		return 0, ErrOverflow
	}
	return int64(amount) * unitPriceCents, nil
}

// Add sums non-negative cent values with an overflow check.
func Add(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Decimal converts cents to a two-place decimal.
func Decimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// Format renders cents as a fixed two-place string, e.g. 2500 -> "25.00".
func Format(cents int64) string {
	return Decimal(cents).StringFixed(2)
}
