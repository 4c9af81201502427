package accounting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssa-exchange/settlement-engine/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestApplyBuy_WeightedAverage(t *testing.T) {
	p, err := ApplyBuy(model.Position{}, d("10"), d("80"), now)
	require.NoError(t, err)
	p, err = ApplyBuy(p, d("10"), d("100"), now)
	require.NoError(t, err)

	assert.True(t, d("20").Equal(p.CurrentQuantity))
	assert.True(t, d("1800").Equal(p.TotalCostBasis))
	assert.True(t, d("90").Equal(p.AverageCostPerShare))
	assert.True(t, p.RealizedProfitLoss.IsZero())
}

func TestApplySell_RealizesAgainstAverage(t *testing.T) {
	p := model.Position{
		Symbol:              "AAPL",
		CurrentQuantity:     d("10"),
		TotalCostBasis:      d("800"),
		AverageCostPerShare: d("80"),
	}

	next, realized, err := ApplySell(p, d("5"), d("500"), now)
	require.NoError(t, err)
	assert.True(t, d("100").Equal(realized))
	assert.True(t, d("5").Equal(next.CurrentQuantity))
	assert.True(t, d("400").Equal(next.TotalCostBasis))
	assert.True(t, d("80").Equal(next.AverageCostPerShare))
	assert.True(t, d("100").Equal(next.RealizedProfitLoss))
}

func TestApplySell_CloseResetsCost(t *testing.T) {
	p, err := ApplyBuy(model.Position{}, d("3"), d("33.33"), now)
	require.NoError(t, err)

	next, _, err := ApplySell(p, d("3"), d("90"), now)
	require.NoError(t, err)
	assert.True(t, next.CurrentQuantity.IsZero())
	assert.True(t, next.TotalCostBasis.IsZero())
	assert.True(t, next.AverageCostPerShare.IsZero())
}

func TestApplySell_Oversell(t *testing.T) {
	p := model.Position{Symbol: "AAPL", CurrentQuantity: d("2"), TotalCostBasis: d("200"), AverageCostPerShare: d("100")}

	next, _, err := ApplySell(p, d("2.5"), d("250"), now)
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.Equal(t, p, next)
}

func TestApplySell_FractionalKeepsAverage(t *testing.T) {
	p, err := ApplyBuy(model.Position{}, d("4"), d("125"), now)
	require.NoError(t, err)

	next, realized, err := ApplySell(p, d("1.5"), d("150"), now)
	require.NoError(t, err)
	assert.True(t, d("2.5").Equal(next.CurrentQuantity))
	assert.True(t, d("312.5").Equal(next.TotalCostBasis))
	assert.True(t, d("125").Equal(next.AverageCostPerShare))
	assert.True(t, d("-37.5").Equal(realized))
}

func TestApply_CostEqualsAverageTimesQuantity(t *testing.T) {
	var p *model.Position
	steps := []struct {
		typ   model.TxType
		qty   string
		price string
	}{
		{model.TxBuy, "3", "90"},
		{model.TxBuy, "7", "101.5"},
		{model.TxSell, "2.25", "110"},
		{model.TxBuy, "1", "95"},
		{model.TxSell, "4", "80"},
	}

	for _, s := range steps {
		tx := &model.Transaction{
			Account:   "0xabc",
			Symbol:    "AAPL",
			Type:      s.typ,
			Quantity:  d(s.qty),
			UnitPrice: decimal.NewNullDecimal(d(s.price)),
		}
		tx.TotalValue = tx.Quantity.Mul(d(s.price))

		next, err := Apply(p, tx)
		require.NoError(t, err)
		if s.typ == model.TxSell {
			assert.True(t, tx.RealizedPnL.Valid)
		}
		diff := next.AverageCostPerShare.Mul(next.CurrentQuantity).Sub(next.TotalCostBasis).Abs()
		assert.True(t, diff.LessThan(d("0.000001")), "avg*qty drifted from cost by %s", diff)
		assert.False(t, next.TotalCostBasis.IsNegative())
		p = &next
	}
	assert.True(t, d("4.75").Equal(p.CurrentQuantity))
}

func TestApply_SellWithoutPosition(t *testing.T) {
	tx := &model.Transaction{Type: model.TxSell, Symbol: "AAPL", Quantity: d("1"), TotalValue: d("100")}
	_, err := Apply(nil, tx)
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.False(t, tx.RealizedPnL.Valid)
}

func TestApply_RejectsCurrencyEvents(t *testing.T) {
	_, err := Apply(nil, &model.Transaction{Type: model.TxMint, Quantity: d("1")})
	assert.ErrorIs(t, err, ErrNotPositionEvent)
}
