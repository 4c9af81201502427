// Package oracle quotes unit prices in a requested settlement currency.
//
// Public symbols are priced live in USD and converted with a static FX
// table; when the live source fails the symbol's fallback price is used, so
// a public quote never fails for a known symbol. Private symbols have a fixed
// USDC price table and are never converted.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/metrics"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

var ErrUnsupportedCurrency = errors.New("oracle: unsupported currency")

// Where a quote's USD price came from.
const (
	SourceLive     = "live"
	SourceCache    = "cache"
	SourceFallback = "fallback"
	SourceFixed    = "fixed"
)

// Source fetches the latest USD price for a market ticker.
type Source interface {
	LatestUSD(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Cache holds recent live USD prices keyed by quote ticker.
type Cache interface {
	Get(ctx context.Context, ticker string) (decimal.Decimal, bool)
	Set(ctx context.Context, ticker string, price decimal.Decimal, ttl time.Duration)
}

// Quote is a unit price in Currency, truncated to ledger resolution.
type Quote struct {
	Symbol   string          `json:"symbol"`
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
	USD      decimal.Decimal `json:"usdPrice"`
	FXRate   decimal.Decimal `json:"fxRate"`
	Source   string          `json:"source"`
}

type Options struct {
	Live     Source // nil serves fallback prices only
	Cache    Cache  // nil disables caching
	CacheTTL time.Duration
	Timeout  time.Duration
	FX       map[string]decimal.Decimal // currency -> units per USD
}

type Oracle struct {
	live    Source
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	fx      map[string]decimal.Decimal
	log     *zap.Logger
}

func New(opts Options, log *zap.Logger) *Oracle {
	fx := make(map[string]decimal.Decimal, len(opts.FX)+1)
	for k, v := range opts.FX {
		fx[symbol.Normalize(k)] = v
	}
	if _, ok := fx["USD"]; !ok {
		fx["USD"] = decimal.NewFromInt(1)
	}
	return &Oracle{
		live:    opts.Live,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		timeout: opts.Timeout,
		fx:      fx,
		log:     log,
	}
}

// Price quotes ticker in currency. An empty currency means the market's
// default: the platform base currency for public symbols, USDC for private.
func (o *Oracle) Price(ctx context.Context, ticker, currency string) (Quote, error) {
	sym, err := symbol.Lookup(ticker)
	if err != nil {
		return Quote{}, err
	}
	cur := symbol.Normalize(currency)

	if sym.Market == symbol.MarketPrivate {
		if cur != "" && cur != symbol.USDC {
			return Quote{}, fmt.Errorf("%w: %s trades in %s only", ErrUnsupportedCurrency, sym.Ticker, symbol.USDC)
		}
		return Quote{
			Symbol:   sym.Ticker,
			Currency: symbol.USDC,
			Price:    sym.FallbackPrice,
			USD:      sym.FallbackPrice,
			FXRate:   decimal.NewFromInt(1),
			Source:   SourceFixed,
		}, nil
	}

	if cur == "" {
		cur = symbol.DefaultBaseCurrency
	}
	rate, ok := o.fx[cur]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	usd, src := o.usd(ctx, sym)
	return Quote{
		Symbol:   sym.Ticker,
		Currency: cur,
		Price:    fixedpoint.Truncate(usd.Mul(rate)),
		USD:      usd,
		FXRate:   rate,
		Source:   src,
	}, nil
}

// Rate returns units of currency per USD.
func (o *Oracle) Rate(currency string) (decimal.Decimal, bool) {
	r, ok := o.fx[symbol.Normalize(currency)]
	return r, ok
}

func (o *Oracle) usd(ctx context.Context, sym symbol.Symbol) (decimal.Decimal, string) {
	if o.cache != nil {
		if p, ok := o.cache.Get(ctx, sym.QuoteTicker); ok {
			return p, SourceCache
		}
	}

	if o.live != nil {
		fetchCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}
		p, err := o.live.LatestUSD(fetchCtx, sym.QuoteTicker)
		if err == nil && p.IsPositive() {
			if o.cache != nil {
				o.cache.Set(ctx, sym.QuoteTicker, p, o.ttl)
			}
			return p, SourceLive
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %s", p)
		}
		o.log.Warn("live quote failed, using fallback price",
			zap.String("symbol", sym.Ticker),
			zap.String("fallback", sym.FallbackPrice.String()),
			zap.Error(err),
		)
	}

	metrics.OracleFallbacks.WithLabelValues(sym.Ticker).Inc()
	return sym.FallbackPrice, SourceFallback
}
