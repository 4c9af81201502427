package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultYahooURL = "https://query1.finance.yahoo.com"
	pricePath       = "$.chart.result[0].meta.regularMarketPrice"
)

// YahooSource reads the regular market price from the Yahoo chart API.
type YahooSource struct {
	client  *resty.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ Source = (*YahooSource)(nil)

func NewYahooSource(baseURL string, rps float64, log *zap.Logger) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &YahooSource{
		client: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "Mozilla/5.0 (compatible; settlement-engine)"),
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (y *YahooSource) LatestUSD(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	y.log.Debug("fetching quote", zap.String("ticker", ticker))
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"interval": "1d", "range": "1d"}).
		Get("/v8/finance/chart/" + url.PathEscape(ticker))
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("quote %s: %s", ticker, resp.Status())
	}

	var jobj any
	if err := json.Unmarshal(resp.Body(), &jobj); err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: decode: %w", ticker, err)
	}
	jval, err := jsonpath.Get(pricePath, jobj)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %q: %w", ticker, pricePath, err)
	}
	// jsonpath may hand back a one-element list
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}
	val, ok := jval.(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("quote %s: %q is not a number: %v", ticker, pricePath, jval)
	}
	return decimal.NewFromFloat(val), nil
}
