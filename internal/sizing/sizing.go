// Package sizing turns a quoted unit price and a requested spend or share
// count into a concrete fill with fee breakdown.
//
// Buys purchase whole units only. Sells may be fractional down to the
// ledger's six-decimal resolution.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
)

var (
	ErrInvalidAmount   = errors.New("sizing: amount must be greater than zero")
	ErrInvalidQuantity = errors.New("sizing: quantity must be greater than zero")
	ErrInvalidPrice    = errors.New("sizing: unit price must be greater than zero")
	ErrAmountTooLow    = errors.New("sizing: amount too low to buy one unit")
)

// AmountTooLowError reports the smallest spend that would buy one unit.
type AmountTooLowError struct {
	Symbol   string
	Currency string
	Minimum  decimal.Decimal
	Provided decimal.Decimal
}

func (e *AmountTooLowError) Error() string {
	return fmt.Sprintf("amount too low: minimum %s %s required to buy 1 %s (fee included), provided %s",
		e.Minimum.StringFixed(4), e.Currency, e.Symbol, e.Provided.String())
}

func (e *AmountTooLowError) Is(target error) bool { return target == ErrAmountTooLow }

// FeeSchedule is a proportional fee floored to Precision decimal places.
type FeeSchedule struct {
	Rate      decimal.Decimal
	Precision int32
}

// On returns the fee charged on amount. It never exceeds amount*Rate.
func (f FeeSchedule) On(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(f.Rate).RoundFloor(f.Precision)
}

// Quote is the price at which a fill is computed.
type Quote struct {
	Symbol    string
	Currency  string
	UnitPrice decimal.Decimal
}

// BuyFill is the outcome of sizing a buy against a spend budget.
type BuyFill struct {
	Symbol           string
	Currency         string
	UnitPrice        decimal.Decimal
	UnitPriceWithFee decimal.Decimal
	Quantity         decimal.Decimal // whole units
	GrossCost        decimal.Decimal
	Fee              decimal.Decimal
	TotalDebit       decimal.Decimal
	Spend            decimal.Decimal
	Change           decimal.Decimal
}

// SellFill is the outcome of sizing a sell of a share count.
type SellFill struct {
	Symbol        string
	Currency      string
	UnitPrice     decimal.Decimal
	Quantity      decimal.Decimal
	GrossProceeds decimal.Decimal
	Fee           decimal.Decimal
	NetProceeds   decimal.Decimal
}

// Buy sizes the largest whole-unit fill whose price plus fee fits in spend.
func Buy(q Quote, spend decimal.Decimal, fees FeeSchedule) (BuyFill, error) {
	if !q.UnitPrice.IsPositive() {
		return BuyFill{}, ErrInvalidPrice
	}
	spend = fixedpoint.Truncate(spend)
	if !spend.IsPositive() {
		return BuyFill{}, ErrInvalidAmount
	}

	withFee := q.UnitPrice.Mul(decimal.NewFromInt(1).Add(fees.Rate))
	units, _ := spend.QuoRem(withFee, 0)
	if units.LessThan(decimal.NewFromInt(1)) {
		return BuyFill{}, &AmountTooLowError{
			Symbol:   q.Symbol,
			Currency: q.Currency,
			Minimum:  withFee,
			Provided: spend,
		}
	}

	gross := units.Mul(q.UnitPrice)
	fee := fees.On(gross)
	debit := gross.Add(fee)
	return BuyFill{
		Symbol:           q.Symbol,
		Currency:         q.Currency,
		UnitPrice:        q.UnitPrice,
		UnitPriceWithFee: withFee,
		Quantity:         units,
		GrossCost:        gross,
		Fee:              fee,
		TotalDebit:       debit,
		Spend:            spend,
		Change:           spend.Sub(debit),
	}, nil
}

// Sell sizes a sell of shares, truncated to ledger resolution.
func Sell(q Quote, shares decimal.Decimal, fees FeeSchedule) (SellFill, error) {
	if !q.UnitPrice.IsPositive() {
		return SellFill{}, ErrInvalidPrice
	}
	qty := fixedpoint.Truncate(shares)
	if !qty.IsPositive() {
		return SellFill{}, ErrInvalidQuantity
	}

	gross := fixedpoint.Truncate(qty.Mul(q.UnitPrice))
	fee := fees.On(gross)
	return SellFill{
		Symbol:        q.Symbol,
		Currency:      q.Currency,
		UnitPrice:     q.UnitPrice,
		Quantity:      qty,
		GrossProceeds: gross,
		Fee:           fee,
		NetProceeds:   gross.Sub(fee),
	}, nil
}
