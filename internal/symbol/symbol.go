// Package symbol is the registry of tradable tickers and settlement
// currencies: which market each ticker trades on, the ledger module that
// holds its balances, and the constant price used when no live quote exists.
package symbol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Market separates exchange-listed stocks from private-market tokens.
type Market string

const (
	MarketPublic  Market = "public"
	MarketPrivate Market = "private"
)

// USDC is the stable coin private-market symbols are priced and settled in.
const USDC = "USDC"

// DefaultBaseCurrency is assigned to accounts created implicitly by a trade.
const DefaultBaseCurrency = "INR"

var (
	ErrUnknownSymbol   = errors.New("symbol: unknown symbol")
	ErrUnknownCurrency = errors.New("symbol: unsupported currency")
	ErrWrongMarket     = errors.New("symbol: not traded on this market")
)

// Symbol describes one tradable ticker.
type Symbol struct {
	Ticker string `json:"symbol"`
	Market Market `json:"market"`
	Module string `json:"module"`
	// QuoteTicker is the upstream market-data ticker (public symbols only).
	QuoteTicker string `json:"quoteTicker,omitempty"`
	// FallbackPrice is in USD for public symbols and USDC for private ones.
	FallbackPrice decimal.Decimal `json:"price"`
}

// QuoteCurrency is the currency FallbackPrice and live quotes are expressed in.
func (s Symbol) QuoteCurrency() string {
	if s.Market == MarketPrivate {
		return USDC
	}
	return "USD"
}

// Currency is a coin an account can hold and settle trades in.
type Currency struct {
	Code   string `json:"code"`
	Module string `json:"module"`
	Stable bool   `json:"stable"`
}

func p(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var publicSymbols = []Symbol{
	{Ticker: "GOOG", Market: MarketPublic, Module: "GOOGCoin", QuoteTicker: "GOOGL", FallbackPrice: p("150.25")},
	{Ticker: "AAPL", Market: MarketPublic, Module: "AAPLCoin", QuoteTicker: "AAPL", FallbackPrice: p("189.20")},
	{Ticker: "TSLA", Market: MarketPublic, Module: "TSLACoin", QuoteTicker: "TSLA", FallbackPrice: p("220.40")},
	{Ticker: "NVDA", Market: MarketPublic, Module: "NVDACoin", QuoteTicker: "NVDA", FallbackPrice: p("128.51")},
	{Ticker: "HOOD", Market: MarketPublic, Module: "HOODCoin", QuoteTicker: "HOOD", FallbackPrice: p("10.93")},
}

var privateSymbols = []Symbol{
	{Ticker: "STRIPE", Market: MarketPrivate, Module: "STRIPECoin", FallbackPrice: p("0.45")},
	{Ticker: "OPENAI", Market: MarketPrivate, Module: "OPENAICoin", FallbackPrice: p("0.50")},
	{Ticker: "DATABRICKS", Market: MarketPrivate, Module: "DATABRICKSCoin", FallbackPrice: p("0.35")},
	{Ticker: "SPACEX", Market: MarketPrivate, Module: "SPACEXCoin", FallbackPrice: p("0.40")},
}

var currencies = []Currency{
	{Code: "INR", Module: "INRCoin"},
	{Code: "EUR", Module: "EURCoin"},
	{Code: "CNY", Module: "CNYCoin"},
	{Code: USDC, Module: "USDC", Stable: true},
}

var bySymbol = func() map[string]Symbol {
	m := make(map[string]Symbol, len(publicSymbols)+len(privateSymbols))
	for _, s := range publicSymbols {
		m[s.Ticker] = s
	}
	for _, s := range privateSymbols {
		m[s.Ticker] = s
	}
	return m
}()

// Normalize upper-cases and trims user input.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Lookup resolves a ticker on either market.
func Lookup(ticker string) (Symbol, error) {
	s, ok := bySymbol[Normalize(ticker)]
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, ticker)
	}
	return s, nil
}

// LookupIn resolves a ticker and checks it trades on the given market.
func LookupIn(market Market, ticker string) (Symbol, error) {
	s, err := Lookup(ticker)
	if err != nil {
		return Symbol{}, err
	}
	if s.Market != market {
		return Symbol{}, fmt.Errorf("%w: %s is a %s symbol", ErrWrongMarket, s.Ticker, s.Market)
	}
	return s, nil
}

// LookupCurrency resolves a settlement currency code.
func LookupCurrency(code string) (Currency, error) {
	code = Normalize(code)
	for _, c := range currencies {
		if c.Code == code {
			return c, nil
		}
	}
	return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
}

// LookupFiat resolves one of the mintable fiat coins (not USDC).
func LookupFiat(code string) (Currency, error) {
	c, err := LookupCurrency(code)
	if err != nil {
		return Currency{}, err
	}
	if c.Stable {
		return Currency{}, fmt.Errorf("%w: %s cannot be minted here", ErrUnknownCurrency, c.Code)
	}
	return c, nil
}

// Module returns the ledger module holding balances of a ticker or currency.
func Module(asset string) (string, error) {
	if s, err := Lookup(asset); err == nil {
		return s.Module, nil
	}
	c, err := LookupCurrency(asset)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, asset)
	}
	return c.Module, nil
}

// Public lists the exchange-listed symbols in display order.
func Public() []Symbol { return append([]Symbol(nil), publicSymbols...) }

// Private lists the private-market symbols in display order.
func Private() []Symbol { return append([]Symbol(nil), privateSymbols...) }

// OnMarket lists the symbols of one market.
func OnMarket(m Market) []Symbol {
	if m == MarketPrivate {
		return Private()
	}
	return Public()
}

// Fiat lists the mintable fiat coins.
func Fiat() []Currency {
	var out []Currency
	for _, c := range currencies {
		if !c.Stable {
			out = append(out, c)
		}
	}
	return out
}
