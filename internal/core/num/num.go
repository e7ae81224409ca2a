// Package num provides fixed-precision decimal helpers shared by the
// engines, the ledger, and the persistence layer. All monetary values are
// shopspring decimals; storage columns are DECIMAL(36,18), so 18 fractional
// digits is the hard boundary. Engine math runs at full precision and rounds
// only at the boundary (quote amounts, fee amounts, output amounts).
package num

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// StorageScale is the fractional precision of the persistence layer.
const StorageScale = 18

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// RoundBank rounds d to the given number of fractional digits using
// banker's rounding (round half to even), the display/boundary rounding mode.
func RoundBank(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// RoundDown truncates d to the given number of fractional digits. Used for
// quantities where over-crediting must never happen.
func RoundDown(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundDown(places)
}

// Clamp bounds d to the storage scale. Every value written to a DECIMAL(36,18)
// column passes through here.
func Clamp(d decimal.Decimal) decimal.Decimal {
	if d.Exponent() < -StorageScale {
		return d.RoundBank(StorageScale)
	}
	return d
}

// DivFloor divides a by b and truncates the quotient at the given number of
// fractional digits. Engine math uses this wherever plain Div's half-up
// rounding at its own precision could round in the taker's favor.
func DivFloor(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, _ := a.QuoRem(b, places)
	return q
}

// DivCeil divides a by b and rounds any non-exact quotient up at the given
// number of fractional digits. Used where the payer must cover the full
// amount.
func DivCeil(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, r := a.QuoRem(b, places)
	if !r.IsZero() {
		q = q.Add(decimal.New(1, -places))
	}
	return q
}

// Sqrt computes the square root of d at storage precision. d must be
// non-negative; negative input returns zero.
//
// shopspring decimal has no square root, so the value is routed through a
// 256-bit big.Float, which carries more than enough mantissa for 36
// significant digits.
func Sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	f, _ := new(big.Float).SetPrec(256).SetString(d.String())
	r := new(big.Float).SetPrec(256).Sqrt(f)
	out, err := decimal.NewFromString(r.Text('f', StorageScale+2))
	if err != nil {
		return decimal.Zero
	}
	return out.RoundBank(StorageScale)
}

// MustParse parses s into a decimal and panics on malformed input. Reserved
// for package-level constants and test fixtures.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("num: invalid decimal constant " + s)
	}
	return d
}
