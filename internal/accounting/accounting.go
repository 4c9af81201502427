// Package accounting maintains weighted-average cost basis and realized P&L
// for a position. Functions here are pure; callers persist the result.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/model"
)

var (
	ErrInsufficientPosition = errors.New("accounting: insufficient position")
	ErrInvalidFill          = errors.New("accounting: invalid fill")
	ErrNotPositionEvent     = errors.New("accounting: transaction does not affect positions")
)

// ApplyBuy adds qty units bought at unitPrice. Fees are excluded from cost basis.
func ApplyBuy(p model.Position, qty, unitPrice decimal.Decimal, at time.Time) (model.Position, error) {
	if !qty.IsPositive() || unitPrice.IsNegative() {
		return p, fmt.Errorf("%w: buy qty=%s price=%s", ErrInvalidFill, qty, unitPrice)
	}
	p.CurrentQuantity = p.CurrentQuantity.Add(qty)
	p.TotalCostBasis = p.TotalCostBasis.Add(qty.Mul(unitPrice))
	p.AverageCostPerShare = p.TotalCostBasis.Div(p.CurrentQuantity)
	p.UpdatedAt = at
	return p, nil
}

// ApplySell removes qty units that returned net proceeds after fees and
// returns the realized P&L of the sale. The average cost is unchanged unless
// the position is closed, in which case cost and average reset to zero.
func ApplySell(p model.Position, qty, net decimal.Decimal, at time.Time) (model.Position, decimal.Decimal, error) {
	if !qty.IsPositive() || net.IsNegative() {
		return p, decimal.Zero, fmt.Errorf("%w: sell qty=%s net=%s", ErrInvalidFill, qty, net)
	}
	if p.CurrentQuantity.LessThan(qty) {
		return p, decimal.Zero, fmt.Errorf("%w: holding %s %s, selling %s",
			ErrInsufficientPosition, p.CurrentQuantity, p.Symbol, qty)
	}

	costSold := qty.Mul(p.AverageCostPerShare)
	realized := net.Sub(costSold)

	p.CurrentQuantity = p.CurrentQuantity.Sub(qty)
	p.TotalCostBasis = decimal.Max(p.TotalCostBasis.Sub(costSold), decimal.Zero)
	p.RealizedProfitLoss = p.RealizedProfitLoss.Add(realized)
	if p.CurrentQuantity.IsZero() {
		p.TotalCostBasis = decimal.Zero
		p.AverageCostPerShare = decimal.Zero
	}
	p.UpdatedAt = at
	return p, realized, nil
}

// Apply folds a BUY or SELL transaction into prev, which is nil when no
// position row exists yet. It sets tx.RealizedPnL for sells.
func Apply(prev *model.Position, tx *model.Transaction) (model.Position, error) {
	var p model.Position
	if prev != nil {
		p = *prev
	} else {
		p = model.Position{Account: tx.Account, Symbol: tx.Symbol, Market: tx.Market}
	}

	switch tx.Type {
	case model.TxBuy:
		return ApplyBuy(p, tx.Quantity, tx.UnitPrice.Decimal, tx.Timestamp)
	case model.TxSell:
		if prev == nil {
			return p, fmt.Errorf("%w: no position in %s", ErrInsufficientPosition, tx.Symbol)
		}
		next, realized, err := ApplySell(p, tx.Quantity, tx.TotalValue, tx.Timestamp)
		if err != nil {
			return p, err
		}
		tx.RealizedPnL = decimal.NewNullDecimal(realized)
		return next, nil
	default:
		return p, fmt.Errorf("%w: %s", ErrNotPositionEvent, tx.Type)
	}
}
