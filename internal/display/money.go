// Package display formats amounts for people rather than machines.
package display

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money renders d in the conventions of an ISO currency code, e.g.
// "₹1,000.00". Codes go-money does not know (USDC) fall back to
// "1000.00 USDC". Amounts are floored to the currency's minor unit.
func Money(d decimal.Decimal, code string) string {
	c := money.GetCurrency(code)
	if c == nil {
		return d.StringFixed(2) + " " + code
	}
	minor := d.Shift(int32(c.Fraction)).Floor().IntPart()
	return money.New(minor, c.Code).Display()
}
