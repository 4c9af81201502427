// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// TxType is the kind of balance-affecting operation a Transaction records.
type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
	TxMint TxType = "MINT"
	TxBurn TxType = "BURN"
)

// StatusSuccess is the only status written today: rows are appended after the
// ledger reported finality.
const StatusSuccess = "SUCCESS"

// NormalizeAddress trims and lower-cases a wallet address so the same
// account is never stored twice under different spellings.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Account is created implicitly by its first recorded operation.
type Account struct {
	Address      string    `json:"walletAddress"`
	BaseCurrency string    `json:"baseCurrency"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Transaction is an immutable record of one settled operation.
// Once inserted it is never modified or deleted.
type Transaction struct {
	ID       string          `json:"id"`
	Account  string          `json:"walletAddress"`
	Type     TxType          `json:"type"`
	Market   symbol.Market   `json:"market,omitempty"`
	Symbol   string          `json:"symbol"`   // stock ticker, or currency code for MINT/BURN
	Currency string          `json:"currency"` // settlement currency
	Quantity decimal.Decimal `json:"quantity"`
	// UnitPrice is null for MINT/BURN.
	UnitPrice  decimal.NullDecimal `json:"pricePerShare"`
	TotalValue decimal.Decimal     `json:"totalValue"`
	// RealizedPnL is set on SELL only.
	RealizedPnL decimal.NullDecimal `json:"realizedPnl"`
	FeeAmount   decimal.Decimal     `json:"feeAmount"`
	TxHash      string              `json:"txHash"`
	Status      string              `json:"status"`
	Timestamp   time.Time           `json:"timestamp"`
}

// IsTrade reports whether the transaction moves a stock position.
func (t *Transaction) IsTrade() bool {
	return t.Type == TxBuy || t.Type == TxSell
}

// Position is the cost-basis record for one (account, symbol).
// CurrentQuantity mirrors the ledger on a best-effort basis; the ledger
// balance is authoritative for how many units are held.
type Position struct {
	Account             string          `json:"walletAddress"`
	Symbol              string          `json:"stockSymbol"`
	Market              symbol.Market   `json:"market"`
	CurrentQuantity     decimal.Decimal `json:"currentQuantity"`
	TotalCostBasis      decimal.Decimal `json:"totalCostBasis"`
	AverageCostPerShare decimal.Decimal `json:"averageCostPerShare"`
	RealizedProfitLoss  decimal.Decimal `json:"realizedProfitLoss"`
	UpdatedAt           time.Time       `json:"lastUpdated"`
}

// CurrencyBalance mirrors a fiat-coin balance from MINT/BURN events.
type CurrencyBalance struct {
	Account   string          `json:"walletAddress"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"lastUpdated"`
}

// ValuedPosition joins a ledger balance, a cost-basis record and a live quote.
type ValuedPosition struct {
	Symbol               string          `json:"stockSymbol"`
	CurrentQuantity      decimal.Decimal `json:"currentQuantity"` // ledger balance
	CurrentPrice         decimal.Decimal `json:"currentPrice"`
	CurrentValue         decimal.Decimal `json:"currentValue"`
	TotalCostBasis       decimal.Decimal `json:"totalCostBasis"`
	AverageCostPerShare  decimal.Decimal `json:"averageCostPerShare"`
	UnrealizedPnL        decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealizedPnlPercent"`
	RealizedPnL          decimal.Decimal `json:"realizedPnl"`
	TotalPnL             decimal.Decimal `json:"totalPnl"`
	BaseCurrency         string          `json:"baseCurrency"`
}

// PortfolioSummary aggregates every position with a nonzero ledger balance.
type PortfolioSummary struct {
	TotalValue         decimal.Decimal `json:"totalValue"`
	TotalCostBasis     decimal.Decimal `json:"totalCostBasis"`
	TotalUnrealizedPnL decimal.Decimal `json:"totalUnrealizedPnl"`
	TotalRealizedPnL   decimal.Decimal `json:"totalRealizedPnl"`
	TotalPnL           decimal.Decimal `json:"totalPnl"`
	TotalPnLPercent    decimal.Decimal `json:"totalPnlPercent"`
}

// Portfolio is the valuation of one account on one market.
type Portfolio struct {
	Address      string           `json:"address"`
	Market       symbol.Market    `json:"market"`
	BaseCurrency string           `json:"baseCurrency"`
	Positions    []ValuedPosition `json:"positions"`
	Summary      PortfolioSummary `json:"summary"`
}

// StockDetail is one position with its P&L and transaction history.
type StockDetail struct {
	Symbol       string          `json:"stockSymbol"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Position     struct {
		CurrentQuantity     decimal.Decimal `json:"currentQuantity"`
		CurrentValue        decimal.Decimal `json:"currentValue"`
		TotalCostBasis      decimal.Decimal `json:"totalCostBasis"`
		AverageCostPerShare decimal.Decimal `json:"averageCostPerShare"`
	} `json:"position"`
	PnL struct {
		UnrealizedPnL        decimal.Decimal `json:"unrealizedPnl"`
		UnrealizedPnLPercent decimal.Decimal `json:"unrealizedPnlPercent"`
		RealizedPnL          decimal.Decimal `json:"realizedPnl"`
		TotalPnL             decimal.Decimal `json:"totalPnl"`
		TotalPnLPercent      decimal.Decimal `json:"totalPnlPercent"`
	} `json:"pnl"`
	BaseCurrency string        `json:"baseCurrency"`
	Transactions []Transaction `json:"transactions"`
}
