// Package store persists accounts, the immutable transaction log, cost-basis
// positions and mirrored currency balances. Implementations: PostgreSQL
// (source of truth), SQLite through GORM (single node), Redis read-through
// cache, and in-memory (tests and development).
package store

import (
	"context"
	"errors"

	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrStoreUnavailable marks timeouts and connection failures that a
	// caller may retry.
	ErrStoreUnavailable = errors.New("store: unavailable")
	// ErrDuplicate means a transaction with the same ledger hash is already
	// recorded; replaying it is a no-op.
	ErrDuplicate = errors.New("store: transaction already recorded")
)

// TransactionFilter narrows ListTransactions. Zero values match everything;
// Limit 0 means no limit.
type TransactionFilter struct {
	Account string
	Symbol  string
	Market  symbol.Market
	Limit   int
}

// Store is the persistence interface.
type Store interface {
	// GetAccount returns ErrNotFound for addresses with no recorded activity.
	GetAccount(ctx context.Context, address string) (*model.Account, error)

	// RecordTrade atomically creates the account if needed, appends the
	// BUY/SELL transaction and applies it to the position. It sets
	// tx.RealizedPnL for sells and returns the updated position.
	RecordTrade(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.Position, error)

	// RecordCurrency atomically appends a MINT/BURN transaction and updates
	// the mirrored currency balance.
	RecordCurrency(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.CurrencyBalance, error)

	// GetPosition returns ErrNotFound when no position row exists.
	GetPosition(ctx context.Context, account, sym string) (*model.Position, error)

	// ListPositions returns all position rows, including closed ones. An
	// empty market matches both.
	ListPositions(ctx context.Context, account string, market symbol.Market) ([]model.Position, error)

	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error)

	ListCurrencyBalances(ctx context.Context, account string) ([]model.CurrencyBalance, error)

	Ping(ctx context.Context) error
}
