// Package fixedpoint converts between human-readable decimal amounts and the
// 6-decimal integer representation the ledger works in.
//
// Amount is a distinct type so ledger-facing values cannot be mixed with the
// decimal values used by sizing and accounting without an explicit conversion.
package fixedpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of implied decimal digits in an Amount.
const Decimals = 6

// ErrOverflow is returned when a decimal does not fit an int64 once scaled.
var ErrOverflow = errors.New("fixedpoint: amount out of range")

// Amount is a quantity in millionths of a unit (1 unit == 1_000_000).
type Amount int64

// ToFixedPoint multiplies by 10^6 and floors. It never rounds to nearest and
// does not reject negative inputs; callers validate sign first.
func ToFixedPoint(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(Decimals).Floor()
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return Amount(scaled.IntPart()), nil
}

// FromFixedPoint divides by 10^6. The result is exact.
func FromFixedPoint(a Amount) decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

// Truncate drops everything past the sixth decimal place (towards -inf), which
// is exactly what a ToFixedPoint/FromFixedPoint round trip does.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(Decimals)
}

// Decimal is shorthand for FromFixedPoint(a).
func (a Amount) Decimal() decimal.Decimal { return FromFixedPoint(a) }

func (a Amount) String() string { return strconv.FormatInt(int64(a), 10) }

// MarshalJSON encodes the amount as a decimal integer string so u64-sized
// values survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare integers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("fixedpoint: invalid amount %q: %w", s, err)
	}
	*a = Amount(v)
	return nil
}
