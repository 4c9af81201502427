// Package exchange sizes, settles and records buy and sell orders for both
// markets, and mints or burns the settlement currencies.
//
// Every operation follows the same order: validate, quote, size, settle on
// the ledger, then record in the store. Once the ledger reports success the
// operation is reported as successful; a store failure after that point is
// logged, queued for reconciliation and surfaced as a warning.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/accounting"
	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/ledger"
	"github.com/ssa-exchange/settlement-engine/internal/metrics"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
	"github.com/ssa-exchange/settlement-engine/internal/store"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// Quoter prices a ticker in a settlement currency.
type Quoter interface {
	Price(ctx context.Context, ticker, currency string) (oracle.Quote, error)
}

// Config holds the tunables of a Service.
type Config struct {
	Fees      sizing.FeeSchedule
	FeeWallet string
	// LedgerTimeout bounds each settlement call.
	LedgerTimeout time.Duration
	// StoreTimeout bounds bookkeeping after settlement.
	StoreTimeout time.Duration
	// Queue receives settled operations the store failed to record.
	Queue reconcile.Queue
	// Hub is optional.
	Hub *WSHub
	// MintStable lets mint and burn move USDC. Only the simulated ledger has
	// no other way to fund private-market trades.
	MintStable bool
}

// Service executes trades and currency operations. Operations on the same
// (account, asset) pair are serialized in-process.
type Service struct {
	cfg    Config
	store  store.Store
	ledger ledger.Ledger
	quotes Quoter
	locks  *keyedMutex
	log    *zap.Logger
	now    func() time.Time
}

func NewService(cfg Config, st store.Store, led ledger.Ledger, quotes Quoter, log *zap.Logger) *Service {
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.Queue == nil {
		cfg.Queue = reconcile.NewMemoryQueue()
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		ledger: led,
		quotes: quotes,
		locks:  newKeyedMutex(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TradeRequest is the body of the buy and sell endpoints. Amount is the
// currency to spend on a buy and the number of shares on a sell.
type TradeRequest struct {
	UserAddress string          `json:"userAddress"`
	Stock       string          `json:"stock"`
	Amount      decimal.Decimal `json:"amount"`
	// Currency overrides the account base currency on the public market.
	Currency string `json:"currency,omitempty"`
}

type BuyResult struct {
	Success       bool            `json:"success"`
	TxHash        string          `json:"txHash"`
	Market        symbol.Market   `json:"market"`
	Stock         string          `json:"stock"`
	Currency      string          `json:"currency"`
	StockAmount   decimal.Decimal `json:"stockAmount"`
	PricePerStock decimal.Decimal `json:"pricePerStock"`
	TotalSpent    decimal.Decimal `json:"totalSpent"`
	FeeAmount     decimal.Decimal `json:"feeAmount"`
	TotalDeducted decimal.Decimal `json:"totalDeducted"`
	Change        decimal.Decimal `json:"change"`
	Warning       string          `json:"warning,omitempty"`
}

type SellResult struct {
	Success       bool            `json:"success"`
	TxHash        string          `json:"txHash"`
	Market        symbol.Market   `json:"market"`
	Stock         string          `json:"stock"`
	Currency      string          `json:"currency"`
	StocksSold    decimal.Decimal `json:"stocksSold"`
	PricePerStock decimal.Decimal `json:"pricePerStock"`
	GrossAmount   decimal.Decimal `json:"grossAmount"`
	FeeAmount     decimal.Decimal `json:"feeAmount"`
	NetReceived   decimal.Decimal `json:"netReceived"`
	// RealizedPnL is null when bookkeeping was deferred.
	RealizedPnL decimal.NullDecimal `json:"realizedPnl"`
	Warning     string              `json:"warning,omitempty"`
}

// Buy spends up to req.Amount of the settlement currency on whole units of
// req.Stock.
func (s *Service) Buy(ctx context.Context, market symbol.Market, req TradeRequest) (*BuyResult, error) {
	start := time.Now()
	account, sym, err := s.validate(market, req, false)
	if err != nil {
		return nil, s.reject(market, "invalid_request", err)
	}
	unlock := s.locks.Lock(account + "|" + sym.Ticker)
	defer unlock()

	currency, base, release, err := s.settlementCurrency(ctx, market, account, req.Currency)
	if err != nil {
		return nil, s.reject(market, "currency", err)
	}
	defer release()

	quote, err := s.quotes.Price(ctx, sym.Ticker, currency)
	if err != nil {
		return nil, err
	}
	fill, err := sizing.Buy(sizing.Quote{Symbol: sym.Ticker, Currency: currency, UnitPrice: quote.Price}, req.Amount, s.cfg.Fees)
	if err != nil {
		return nil, s.reject(market, "sizing", err)
	}

	order, err := s.order(account, sym.Ticker, currency, fill.Quantity, fill.UnitPrice, fill.Fee)
	if err != nil {
		return nil, err
	}
	if err := s.checkFunds(ctx, account, currency, fill.TotalDebit); err != nil {
		return nil, s.reject(market, "insufficient_balance", err)
	}

	hash, err := s.settle(ctx, "buy", func(ctx context.Context) (string, error) {
		return s.ledger.SettleBuy(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:         uuid.NewString(),
		Account:    account,
		Type:       model.TxBuy,
		Market:     market,
		Symbol:     sym.Ticker,
		Currency:   currency,
		Quantity:   fill.Quantity,
		UnitPrice:  decimal.NewNullDecimal(fill.UnitPrice),
		TotalValue: fill.GrossCost,
		FeeAmount:  fill.Fee,
		TxHash:     hash,
		Status:     model.StatusSuccess,
		Timestamp:  s.now(),
	}
	warning := s.record(ctx, tx, base)
	s.settled(tx, start)

	return &BuyResult{
		Success:       true,
		TxHash:        hash,
		Market:        market,
		Stock:         sym.Ticker,
		Currency:      currency,
		StockAmount:   fill.Quantity,
		PricePerStock: fill.UnitPrice,
		TotalSpent:    fill.GrossCost,
		FeeAmount:     fill.Fee,
		TotalDeducted: fill.TotalDebit,
		Change:        fill.Change,
		Warning:       warning,
	}, nil
}

// Sell sells req.Amount shares of req.Stock. The held quantity is checked
// before anything reaches the ledger.
func (s *Service) Sell(ctx context.Context, market symbol.Market, req TradeRequest) (*SellResult, error) {
	start := time.Now()
	account, sym, err := s.validate(market, req, true)
	if err != nil {
		return nil, s.reject(market, "invalid_request", err)
	}
	qty := fixedpoint.Truncate(req.Amount)
	if !qty.IsPositive() {
		return nil, s.reject(market, "sizing", sizing.ErrInvalidQuantity)
	}

	unlock := s.locks.Lock(account + "|" + sym.Ticker)
	defer unlock()

	currency, base, release, err := s.settlementCurrency(ctx, market, account, req.Currency)
	if err != nil {
		return nil, s.reject(market, "currency", err)
	}
	defer release()

	held := decimal.Zero
	pos, err := s.store.GetPosition(ctx, account, sym.Ticker)
	switch {
	case err == nil:
		held = pos.CurrentQuantity
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	if held.LessThan(qty) {
		return nil, s.reject(market, "insufficient_position", fmt.Errorf("%w: holding %s %s, selling %s",
			accounting.ErrInsufficientPosition, held, sym.Ticker, qty))
	}

	quote, err := s.quotes.Price(ctx, sym.Ticker, currency)
	if err != nil {
		return nil, err
	}
	fill, err := sizing.Sell(sizing.Quote{Symbol: sym.Ticker, Currency: currency, UnitPrice: quote.Price}, qty, s.cfg.Fees)
	if err != nil {
		return nil, s.reject(market, "sizing", err)
	}

	order, err := s.order(account, sym.Ticker, currency, fill.Quantity, fill.UnitPrice, fill.Fee)
	if err != nil {
		return nil, err
	}
	hash, err := s.settle(ctx, "sell", func(ctx context.Context) (string, error) {
		return s.ledger.SettleSell(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:         uuid.NewString(),
		Account:    account,
		Type:       model.TxSell,
		Market:     market,
		Symbol:     sym.Ticker,
		Currency:   currency,
		Quantity:   fill.Quantity,
		UnitPrice:  decimal.NewNullDecimal(fill.UnitPrice),
		TotalValue: fill.NetProceeds,
		FeeAmount:  fill.Fee,
		TxHash:     hash,
		Status:     model.StatusSuccess,
		Timestamp:  s.now(),
	}
	warning := s.record(ctx, tx, base)
	s.settled(tx, start)

	return &SellResult{
		Success:       true,
		TxHash:        hash,
		Market:        market,
		Stock:         sym.Ticker,
		Currency:      currency,
		StocksSold:    fill.Quantity,
		PricePerStock: fill.UnitPrice,
		GrossAmount:   fill.GrossProceeds,
		FeeAmount:     fill.Fee,
		NetReceived:   fill.NetProceeds,
		RealizedPnL:   tx.RealizedPnL,
		Warning:       warning,
	}, nil
}

func (s *Service) validate(market symbol.Market, req TradeRequest, sell bool) (string, symbol.Symbol, error) {
	if s.cfg.FeeWallet == "" {
		return "", symbol.Symbol{}, config.ErrMissingFeeWallet
	}
	account := model.NormalizeAddress(req.UserAddress)
	if account == "" || symbol.Normalize(req.Stock) == "" || req.Amount.IsZero() {
		return "", symbol.Symbol{}, api.ErrInvalidRequest
	}
	if req.Amount.IsNegative() {
		if sell {
			return "", symbol.Symbol{}, sizing.ErrInvalidQuantity
		}
		return "", symbol.Symbol{}, sizing.ErrInvalidAmount
	}
	sym, err := symbol.LookupIn(market, req.Stock)
	if err != nil {
		return "", symbol.Symbol{}, err
	}
	return account, sym, nil
}

// settlementCurrency resolves the currency a trade settles in and the base
// currency to give the account if the trade creates it. Private symbols
// settle in USDC. Public ones settle in the account base currency, so every
// public position keeps its cost basis in one currency; the override may only
// restate it, or choose it for an account's first operation. release must be
// called once the trade is recorded.
func (s *Service) settlementCurrency(ctx context.Context, market symbol.Market, account, override string) (string, string, func(), error) {
	if market == symbol.MarketPrivate {
		if c := symbol.Normalize(override); c != "" && c != symbol.USDC {
			return "", "", nil, fmt.Errorf("%w: private stocks settle in %s only", oracle.ErrUnsupportedCurrency, symbol.USDC)
		}
	}
	var requested string
	if market == symbol.MarketPublic && override != "" {
		c, err := symbol.LookupFiat(override)
		if err != nil {
			return "", "", nil, err
		}
		requested = c.Code
	}

	acct, release, err := s.claimAccount(ctx, account)
	if err != nil {
		return "", "", nil, err
	}
	base := symbol.DefaultBaseCurrency
	switch {
	case acct != nil:
		base = acct.BaseCurrency
	case requested != "":
		base = requested
	}

	if market == symbol.MarketPrivate {
		return symbol.USDC, base, release, nil
	}
	if requested != "" && requested != base {
		release()
		return "", "", nil, fmt.Errorf("%w: account %s settles in %s, not %s",
			api.ErrCurrencyMismatch, account, base, requested)
	}
	c, err := symbol.LookupFiat(base)
	if err != nil {
		release()
		return "", "", nil, err
	}
	return c.Code, base, release, nil
}

// claimAccount reads an account. When it does not exist yet the account lock
// is held until release, so concurrent first operations agree on its base
// currency. Account locks are always taken after the asset lock.
func (s *Service) claimAccount(ctx context.Context, account string) (*model.Account, func(), error) {
	noop := func() {}
	acct, err := s.store.GetAccount(ctx, account)
	if err == nil {
		return acct, noop, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	unlock := s.locks.Lock(account)
	acct, err = s.store.GetAccount(ctx, account)
	switch {
	case err == nil:
		unlock()
		return acct, noop, nil
	case !errors.Is(err, store.ErrNotFound):
		unlock()
		return nil, nil, err
	}
	return nil, unlock, nil
}

func (s *Service) order(account, ticker, currency string, qty, price, fee decimal.Decimal) (ledger.Order, error) {
	q, err := fixedpoint.ToFixedPoint(qty)
	if err != nil {
		return ledger.Order{}, err
	}
	p, err := fixedpoint.ToFixedPoint(price)
	if err != nil {
		return ledger.Order{}, err
	}
	f, err := fixedpoint.ToFixedPoint(fee)
	if err != nil {
		return ledger.Order{}, err
	}
	return ledger.Order{
		Account:   account,
		Symbol:    ticker,
		Currency:  currency,
		Quantity:  q,
		UnitPrice: p,
		Fee:       f,
		FeeWallet: s.cfg.FeeWallet,
	}, nil
}

// checkFunds refuses a debit the ledger balance cannot cover.
func (s *Service) checkFunds(ctx context.Context, account, asset string, need decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	bal, err := s.ledger.Balance(ctx, account, asset)
	if err != nil {
		return fmt.Errorf("%w: balance of %s: %v", api.ErrSettlementFailed, asset, err)
	}
	if bal.Decimal().LessThan(need) {
		return fmt.Errorf("%w: need %s %s, have %s", api.ErrInsufficientBalance, need, asset, bal.Decimal())
	}
	return nil
}

// settle runs a ledger call detached from the caller's cancellation, bounded
// by LedgerTimeout.
func (s *Service) settle(ctx context.Context, op string, call func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LedgerTimeout)
	defer cancel()

	hash, err := call(ctx)
	if err == nil {
		return hash, nil
	}
	metrics.SettlementFailures.WithLabelValues(op).Inc()
	s.log.Error("ledger settlement failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return "", fmt.Errorf("%w: %v", api.ErrInsufficientBalance, err)
	}
	return "", fmt.Errorf("%w: %v", api.ErrSettlementFailed, err)
}

// record writes a settled operation to the store. A failure is not returned:
// the ledger has already moved the funds, so the operation is queued for
// replay and the returned warning is passed on to the caller. The queue push
// gets its own deadline because the store write may have used up ctx.
func (s *Service) record(parent context.Context, tx *model.Transaction, base string) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.StoreTimeout)
	defer cancel()

	var err error
	if tx.IsTrade() {
		_, err = s.store.RecordTrade(ctx, tx, base)
	} else {
		_, err = s.store.RecordCurrency(ctx, tx, base)
	}
	if err == nil {
		return ""
	}

	tx.RealizedPnL = decimal.NullDecimal{}
	metrics.BookkeepingFailures.WithLabelValues(string(tx.Type)).Inc()
	s.log.Warn("settled on ledger but not recorded",
		zap.String("tx_hash", tx.TxHash),
		zap.String("account", tx.Account),
		zap.String("type", string(tx.Type)),
		zap.String("symbol", tx.Symbol),
		zap.Error(err),
	)
	pending := reconcile.Pending{Tx: *tx, BaseCurrency: base, Reason: err.Error(), FailedAt: s.now()}
	qctx, qcancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.StoreTimeout)
	defer qcancel()
	if qerr := s.cfg.Queue.Push(qctx, pending); qerr != nil {
		s.log.Error("reconcile queue push failed", zap.String("tx_hash", tx.TxHash), zap.Error(qerr))
	}
	return "settled on ledger; portfolio update deferred: " + err.Error()
}

func (s *Service) settled(tx *model.Transaction, start time.Time) {
	side := string(tx.Type)
	if tx.IsTrade() {
		metrics.TradesTotal.WithLabelValues(string(tx.Market), side).Inc()
		metrics.TradeLatency.WithLabelValues(string(tx.Market), side).Observe(time.Since(start).Seconds())
		metrics.Volume.WithLabelValues(tx.Symbol, side).Add(tx.Quantity.InexactFloat64())
	}

	if s.cfg.Hub != nil {
		msg := WSMessage{
			Type:     MsgSupplyChanged,
			Market:   string(tx.Market),
			Symbol:   tx.Symbol,
			Side:     side,
			Quantity: tx.Quantity.String(),
			Currency: tx.Currency,
			TxHash:   tx.TxHash,
		}
		if tx.IsTrade() {
			msg.Type = MsgTradeExecuted
			msg.Price = tx.UnitPrice.Decimal.String()
		}
		s.cfg.Hub.Broadcast(msg)
	}

	s.log.Info("operation settled",
		zap.String("type", side),
		zap.String("account", tx.Account),
		zap.String("symbol", tx.Symbol),
		zap.String("quantity", tx.Quantity.String()),
		zap.String("currency", tx.Currency),
		zap.String("tx_hash", tx.TxHash),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *Service) reject(market symbol.Market, reason string, err error) error {
	metrics.TradeRejections.WithLabelValues(reason).Inc()
	s.log.Debug("request rejected", zap.String("market", string(market)), zap.String("reason", reason), zap.Error(err))
	return err
}
