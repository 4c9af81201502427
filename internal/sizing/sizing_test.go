package sizing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var tenthPercent = FeeSchedule{Rate: d("0.001")}

func TestBuy_WholeUnitsWithChange(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("90")}

	fill, err := Buy(q, d("1000"), tenthPercent)
	require.NoError(t, err)

	assert.True(t, d("90.09").Equal(fill.UnitPriceWithFee))
	assert.True(t, d("11").Equal(fill.Quantity))
	assert.True(t, d("990").Equal(fill.GrossCost))
	// 0.99 floored to whole currency units
	assert.True(t, fill.Fee.IsZero())
	assert.True(t, d("990").Equal(fill.TotalDebit))
	assert.True(t, d("10").Equal(fill.Change))
}

func TestBuy_AmountTooLow(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("90")}

	_, err := Buy(q, d("50"), tenthPercent)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmountTooLow))

	var tooLow *AmountTooLowError
	require.True(t, errors.As(err, &tooLow))
	assert.True(t, d("90.09").Equal(tooLow.Minimum))
	assert.True(t, d("50").Equal(tooLow.Provided))
	assert.Contains(t, err.Error(), "90.0900")
}

func TestBuy_ExactMultiple(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("90")}

	fill, err := Buy(q, d("180.18"), tenthPercent)
	require.NoError(t, err)
	assert.True(t, d("2").Equal(fill.Quantity))
}

func TestBuy_FeePrecision(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("90")}
	micro := FeeSchedule{Rate: d("0.001"), Precision: 6}

	fill, err := Buy(q, d("1000"), micro)
	require.NoError(t, err)
	assert.True(t, d("0.99").Equal(fill.Fee))
	assert.True(t, d("990.99").Equal(fill.TotalDebit))
	assert.True(t, d("9.01").Equal(fill.Change))
}

func TestBuy_FillProperties(t *testing.T) {
	fees := FeeSchedule{Rate: d("0.0025"), Precision: 2}
	prices := []string{"0.45", "10.93", "138.23", "925.272", "13522.5"}
	spends := []string{"1", "99.99", "1000", "123456.789", "5000000"}

	for _, p := range prices {
		for _, s := range spends {
			q := Quote{Symbol: "X", Currency: "INR", UnitPrice: d(p)}
			fill, err := Buy(q, d(s), fees)
			if errors.Is(err, ErrAmountTooLow) {
				minimum := d(p).Mul(decimal.NewFromInt(1).Add(fees.Rate))
				assert.True(t, d(s).LessThan(minimum))
				continue
			}
			require.NoError(t, err)
			assert.True(t, fill.Quantity.IsInteger(), "fill %s must be whole", fill.Quantity)
			assert.True(t, fill.TotalDebit.LessThanOrEqual(fill.Spend))
			assert.False(t, fill.Change.IsNegative())
			assert.True(t, fill.Change.Add(fill.TotalDebit).Equal(fill.Spend))
			assert.True(t, fill.Fee.LessThanOrEqual(fill.GrossCost.Mul(fees.Rate)))
			// one more unit must not fit
			next := fill.Quantity.Add(decimal.NewFromInt(1)).Mul(fill.UnitPriceWithFee)
			assert.True(t, next.GreaterThan(fill.Spend))
		}
	}
}

func TestBuy_InvalidInput(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("90")}

	_, err := Buy(q, decimal.Zero, tenthPercent)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Buy(q, d("0.0000001"), tenthPercent)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Buy(Quote{UnitPrice: decimal.Zero}, d("100"), tenthPercent)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestSell_Proceeds(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("100")}

	fill, err := Sell(q, d("5"), tenthPercent)
	require.NoError(t, err)
	assert.True(t, d("5").Equal(fill.Quantity))
	assert.True(t, d("500").Equal(fill.GrossProceeds))
	assert.True(t, fill.Fee.IsZero())
	assert.True(t, d("500").Equal(fill.NetProceeds))
}

func TestSell_TruncatesToSixDecimals(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("100")}

	fill, err := Sell(q, d("1.23456789"), FeeSchedule{Rate: d("0.001"), Precision: 6})
	require.NoError(t, err)
	assert.True(t, d("1.234567").Equal(fill.Quantity))
	assert.True(t, d("123.4567").Equal(fill.GrossProceeds))
	assert.True(t, d("0.123456").Equal(fill.Fee))
	assert.True(t, d("123.333244").Equal(fill.NetProceeds))
}

func TestSell_InvalidQuantity(t *testing.T) {
	q := Quote{Symbol: "AAPL", Currency: "INR", UnitPrice: d("100")}

	for _, s := range []string{"0", "-1", "0.0000009"} {
		_, err := Sell(q, d(s), tenthPercent)
		assert.ErrorIs(t, err, ErrInvalidQuantity, s)
	}
}
