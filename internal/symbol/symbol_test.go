package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_CaseInsensitive(t *testing.T) {
	s, err := Lookup(" goog ")
	require.NoError(t, err)
	assert.Equal(t, "GOOG", s.Ticker)
	assert.Equal(t, "GOOGL", s.QuoteTicker)
	assert.Equal(t, MarketPublic, s.Market)
	assert.Equal(t, "USD", s.QuoteCurrency())
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("MSFT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestLookupIn_WrongMarket(t *testing.T) {
	_, err := LookupIn(MarketPublic, "STRIPE")
	assert.ErrorIs(t, err, ErrWrongMarket)

	s, err := LookupIn(MarketPrivate, "stripe")
	require.NoError(t, err)
	assert.Equal(t, USDC, s.QuoteCurrency())
	assert.Equal(t, "0.45", s.FallbackPrice.String())
}

func TestLookupFiat(t *testing.T) {
	c, err := LookupFiat("inr")
	require.NoError(t, err)
	assert.Equal(t, "INRCoin", c.Module)

	_, err = LookupFiat("USDC")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
	_, err = LookupFiat("GBP")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestModule(t *testing.T) {
	tests := map[string]string{
		"TSLA":   "TSLACoin",
		"SPACEX": "SPACEXCoin",
		"EUR":    "EURCoin",
		"USDC":   "USDC",
	}
	for asset, want := range tests {
		got, err := Module(asset)
		require.NoError(t, err, asset)
		assert.Equal(t, want, got)
	}
	_, err := Module("XYZ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestRegistryListsAreCopies(t *testing.T) {
	pub := Public()
	require.Len(t, pub, 5)
	pub[0].Ticker = "MUTATED"
	assert.Equal(t, "GOOG", Public()[0].Ticker)
	assert.Len(t, Private(), 4)
	assert.Len(t, Fiat(), 3)
	assert.Equal(t, Private(), OnMarket(MarketPrivate))
}
