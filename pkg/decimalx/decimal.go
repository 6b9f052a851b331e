// Package decimalx holds the exact-arithmetic helpers used wherever a quantity
// or price has to respect exchange constraints.
package decimalx

import (
	"math"

	"github.com/shopspring/decimal"
)

// PositionPlaces is the precision a position amount is rounded to after each trade.
const PositionPlaces int32 = 7

// DefaultTolerance is the residue below which a value counts as a multiple of a step.
var DefaultTolerance = decimal.New(1, -12)

// RoundUp rounds value up to the next multiple of step.
// A non-positive step leaves value unchanged.
func RoundUp(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Ceil().Mul(step)
}

// RoundDown rounds value down to the previous multiple of step.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// IsMultipleOf reports whether x is a multiple of base within tol.
func IsMultipleOf(x, base, tol decimal.Decimal) bool {
	if base.IsZero() {
		return false
	}
	r := x.Mod(base)
	return r.Abs().LessThan(tol) || r.Sub(base).Abs().LessThan(tol)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// RoundPosition rounds a signed position amount to PositionPlaces.
func RoundPosition(d decimal.Decimal) decimal.Decimal {
	return d.Round(PositionPlaces)
}

// FromString parses s, returning zero for empty or malformed input.
func FromString(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FromFloat converts f, mapping NaN and infinities to zero.
func FromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// Abs returns |d|.
func Abs(d decimal.Decimal) decimal.Decimal { return d.Abs() }

// SameSign reports whether a and b are both strictly positive or both strictly negative.
func SameSign(a, b decimal.Decimal) bool {
	return a.Sign()*b.Sign() > 0
}
