// Package portfolio values an account's holdings. It joins authoritative
// ledger balances with the cost-basis records kept by the store and a
// current quote per symbol; it never writes.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/store"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// DefaultTransactionLimit applies when a listing asks for no limit.
const DefaultTransactionLimit = 50

var hundred = decimal.NewFromInt(100)

// Balances reads ledger balances.
type Balances interface {
	Balance(ctx context.Context, account, asset string) (fixedpoint.Amount, error)
}

// Quoter prices a ticker in a settlement currency.
type Quoter interface {
	Price(ctx context.Context, ticker, currency string) (oracle.Quote, error)
}

type Service struct {
	store    store.Store
	balances Balances
	quotes   Quoter
	timeout  time.Duration
	log      *zap.Logger
}

// NewService returns a valuation service. timeout bounds each ledger read.
func NewService(st store.Store, balances Balances, quotes Quoter, timeout time.Duration, log *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{store: st, balances: balances, quotes: quotes, timeout: timeout, log: log}
}

// UserInfo is the account lookup returned to clients; unknown addresses get
// the default base currency.
type UserInfo struct {
	Exists       bool           `json:"exists"`
	Account      *model.Account `json:"account,omitempty"`
	BaseCurrency string         `json:"baseCurrency"`
}

func (s *Service) UserInfo(ctx context.Context, address string) (*UserInfo, error) {
	account := model.NormalizeAddress(address)
	if account == "" {
		return nil, api.ErrInvalidRequest
	}
	acct, err := s.store.GetAccount(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return &UserInfo{BaseCurrency: symbol.DefaultBaseCurrency}, nil
	}
	if err != nil {
		return nil, err
	}
	return &UserInfo{Exists: true, Account: acct, BaseCurrency: acct.BaseCurrency}, nil
}

// currencyFor is the currency a market's holdings are valued in.
func (s *Service) currencyFor(ctx context.Context, market symbol.Market, account string) (string, error) {
	if market == symbol.MarketPrivate {
		return symbol.USDC, nil
	}
	info, err := s.UserInfo(ctx, account)
	if err != nil {
		return "", err
	}
	return info.BaseCurrency, nil
}

// Valuate values every symbol of market the account holds on the ledger.
// Symbols with a zero ledger balance are left out; a symbol whose balance
// or quote cannot be read is skipped and logged.
func (s *Service) Valuate(ctx context.Context, address string, market symbol.Market) (*model.Portfolio, error) {
	account := model.NormalizeAddress(address)
	if account == "" {
		return nil, api.ErrInvalidRequest
	}
	currency, err := s.currencyFor(ctx, market, account)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListPositions(ctx, account, market)
	if err != nil {
		return nil, err
	}
	byTicker := make(map[string]model.Position, len(rows))
	for _, p := range rows {
		byTicker[p.Symbol] = p
	}

	out := &model.Portfolio{
		Address:      account,
		Market:       market,
		BaseCurrency: currency,
		Positions:    []model.ValuedPosition{},
	}
	for _, sym := range symbol.OnMarket(market) {
		vp, ok := s.value(ctx, account, sym, currency, byTicker[sym.Ticker])
		if !ok {
			continue
		}
		out.Positions = append(out.Positions, vp)
		out.Summary.TotalValue = out.Summary.TotalValue.Add(vp.CurrentValue)
		out.Summary.TotalCostBasis = out.Summary.TotalCostBasis.Add(vp.TotalCostBasis)
		out.Summary.TotalUnrealizedPnL = out.Summary.TotalUnrealizedPnL.Add(vp.UnrealizedPnL)
		out.Summary.TotalRealizedPnL = out.Summary.TotalRealizedPnL.Add(vp.RealizedPnL)
	}
	out.Summary.TotalPnL = out.Summary.TotalUnrealizedPnL.Add(out.Summary.TotalRealizedPnL)
	out.Summary.TotalPnLPercent = percent(out.Summary.TotalPnL, out.Summary.TotalCostBasis)
	return out, nil
}

func (s *Service) value(ctx context.Context, account string, sym symbol.Symbol, currency string, pos model.Position) (model.ValuedPosition, bool) {
	bctx, cancel := context.WithTimeout(ctx, s.timeout)
	raw, err := s.balances.Balance(bctx, account, sym.Ticker)
	cancel()
	if err != nil {
		s.log.Warn("ledger balance unavailable, skipping symbol",
			zap.String("account", account), zap.String("symbol", sym.Ticker), zap.Error(err))
		return model.ValuedPosition{}, false
	}
	if raw <= 0 {
		return model.ValuedPosition{}, false
	}
	q, err := s.quotes.Price(ctx, sym.Ticker, currency)
	if err != nil {
		s.log.Warn("quote unavailable, skipping symbol",
			zap.String("symbol", sym.Ticker), zap.String("currency", currency), zap.Error(err))
		return model.ValuedPosition{}, false
	}

	qty := raw.Decimal()
	value := qty.Mul(q.Price)
	unrealized := value.Sub(pos.TotalCostBasis)
	return model.ValuedPosition{
		Symbol:               sym.Ticker,
		CurrentQuantity:      qty,
		CurrentPrice:         q.Price,
		CurrentValue:         value,
		TotalCostBasis:       pos.TotalCostBasis,
		AverageCostPerShare:  pos.AverageCostPerShare,
		UnrealizedPnL:        unrealized,
		UnrealizedPnLPercent: percent(unrealized, pos.TotalCostBasis),
		RealizedPnL:          pos.RealizedProfitLoss,
		TotalPnL:             unrealized.Add(pos.RealizedProfitLoss),
		BaseCurrency:         currency,
	}, true
}

// StockDetail reports one stored position with its P&L and history.
// The overall return is measured against the cost of every BUY, including
// units already sold.
func (s *Service) StockDetail(ctx context.Context, address, ticker string) (*model.StockDetail, error) {
	account := model.NormalizeAddress(address)
	if account == "" {
		return nil, api.ErrInvalidRequest
	}
	sym, err := symbol.Lookup(ticker)
	if err != nil {
		return nil, err
	}
	pos, err := s.store.GetPosition(ctx, account, sym.Ticker)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no position found for %s", api.ErrPositionNotFound, sym.Ticker)
	}
	if err != nil {
		return nil, err
	}
	currency, err := s.currencyFor(ctx, sym.Market, account)
	if err != nil {
		return nil, err
	}
	q, err := s.quotes.Price(ctx, sym.Ticker, currency)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, store.TransactionFilter{Account: account, Symbol: sym.Ticker})
	if err != nil {
		return nil, err
	}

	historical := decimal.Zero
	for _, tx := range txs {
		if tx.Type == model.TxBuy {
			historical = historical.Add(tx.TotalValue)
		}
	}

	value := pos.CurrentQuantity.Mul(q.Price)
	unrealized := value.Sub(pos.TotalCostBasis)
	total := unrealized.Add(pos.RealizedProfitLoss)

	d := &model.StockDetail{
		Symbol:       sym.Ticker,
		CurrentPrice: q.Price,
		BaseCurrency: currency,
		Transactions: txs,
	}
	d.Position.CurrentQuantity = pos.CurrentQuantity
	d.Position.CurrentValue = value
	d.Position.TotalCostBasis = pos.TotalCostBasis
	d.Position.AverageCostPerShare = pos.AverageCostPerShare
	d.PnL.UnrealizedPnL = unrealized
	d.PnL.UnrealizedPnLPercent = percent(unrealized, pos.TotalCostBasis)
	d.PnL.RealizedPnL = pos.RealizedProfitLoss
	d.PnL.TotalPnL = total
	d.PnL.TotalPnLPercent = percent(total, historical)
	if d.Transactions == nil {
		d.Transactions = []model.Transaction{}
	}
	return d, nil
}

// Transactions lists an account's history on market, newest first.
// An empty market lists both.
func (s *Service) Transactions(ctx context.Context, address string, market symbol.Market, limit int) ([]model.Transaction, error) {
	account := model.NormalizeAddress(address)
	if account == "" {
		return nil, api.ErrInvalidRequest
	}
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	txs, err := s.store.ListTransactions(ctx, store.TransactionFilter{Account: account, Market: market, Limit: limit})
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

// percent is part/whole*100 to four places, or zero when whole is not positive.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(4)
}
