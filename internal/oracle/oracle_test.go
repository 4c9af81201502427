package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testFX = map[string]decimal.Decimal{
	"USD": d("1"),
	"INR": d("90"),
	"CNY": d("7.2"),
	"EUR": d("0.92"),
}

type stubSource struct {
	price decimal.Decimal
	err   error
	calls atomic.Int32
}

func (s *stubSource) LatestUSD(ctx context.Context, ticker string) (decimal.Decimal, error) {
	s.calls.Add(1)
	return s.price, s.err
}

type slowSource struct{}

func (slowSource) LatestUSD(ctx context.Context, ticker string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestPrice_LiveConvertedToCurrency(t *testing.T) {
	src := &stubSource{price: d("100")}
	o := New(Options{Live: src, FX: testFX}, zap.NewNop())

	q, err := o.Price(context.Background(), "aapl", "inr")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "INR", q.Currency)
	assert.True(t, d("9000").Equal(q.Price))
	assert.Equal(t, SourceLive, q.Source)
}

func TestPrice_DefaultsToBaseCurrency(t *testing.T) {
	o := New(Options{Live: &stubSource{price: d("2")}, FX: testFX}, zap.NewNop())

	q, err := o.Price(context.Background(), "HOOD", "")
	require.NoError(t, err)
	assert.Equal(t, symbol.DefaultBaseCurrency, q.Currency)
	assert.True(t, d("180").Equal(q.Price))
}

func TestPrice_FallbackNeverFails(t *testing.T) {
	for name, src := range map[string]Source{
		"error":    &stubSource{err: errors.New("boom")},
		"zero":     &stubSource{price: decimal.Zero},
		"negative": &stubSource{price: d("-3")},
		"none":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			o := New(Options{Live: src, FX: testFX}, zap.NewNop())
			q, err := o.Price(context.Background(), "GOOG", "EUR")
			require.NoError(t, err)
			assert.Equal(t, SourceFallback, q.Source)
			assert.True(t, d("138.23").Equal(q.Price), q.Price.String())
			assert.True(t, q.Price.IsPositive())
		})
	}
}

func TestPrice_TimeoutFallsBack(t *testing.T) {
	o := New(Options{Live: slowSource{}, FX: testFX, Timeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	q, err := o.Price(context.Background(), "TSLA", "CNY")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, SourceFallback, q.Source)
	assert.True(t, d("1586.88").Equal(q.Price))
}

func TestPrice_TruncatesToLedgerResolution(t *testing.T) {
	o := New(Options{Live: &stubSource{price: d("150.1234567")}, FX: testFX}, zap.NewNop())

	q, err := o.Price(context.Background(), "GOOG", "USD")
	require.NoError(t, err)
	assert.True(t, d("150.123456").Equal(q.Price))
}

func TestPrice_PrivateIsFixedUSDC(t *testing.T) {
	src := &stubSource{price: d("999")}
	o := New(Options{Live: src, FX: testFX}, zap.NewNop())

	q, err := o.Price(context.Background(), "OPENAI", "")
	require.NoError(t, err)
	assert.Equal(t, symbol.USDC, q.Currency)
	assert.True(t, d("0.50").Equal(q.Price))
	assert.Equal(t, SourceFixed, q.Source)
	assert.Zero(t, src.calls.Load())

	_, err = o.Price(context.Background(), "OPENAI", "INR")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestPrice_Errors(t *testing.T) {
	o := New(Options{FX: testFX}, zap.NewNop())

	_, err := o.Price(context.Background(), "MSFT", "INR")
	assert.ErrorIs(t, err, symbol.ErrUnknownSymbol)

	_, err = o.Price(context.Background(), "AAPL", "JPY")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestPrice_UsesCache(t *testing.T) {
	src := &stubSource{price: d("10")}
	o := New(Options{Live: src, Cache: NewMemoryCache(), CacheTTL: time.Minute, FX: testFX}, zap.NewNop())

	q1, err := o.Price(context.Background(), "NVDA", "USD")
	require.NoError(t, err)
	q2, err := o.Price(context.Background(), "NVDA", "INR")
	require.NoError(t, err)

	assert.Equal(t, SourceLive, q1.Source)
	assert.Equal(t, SourceCache, q2.Source)
	assert.True(t, d("900").Equal(q2.Price))
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestMemoryCache_Expires(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "AAPL", d("1"), time.Second)
	_, ok := c.Get(context.Background(), "AAPL")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get(context.Background(), "AAPL")
	assert.False(t, ok)

	c.Set(context.Background(), "AAPL", d("1"), 0)
	_, ok = c.Get(context.Background(), "AAPL")
	assert.False(t, ok)
}
