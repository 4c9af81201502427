package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// read paths portfolio valuation hits on every request. Writes go to the
// primary store and invalidate the account's keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) RecordTrade(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.Position, error) {
	p, err := s.primary.RecordTrade(ctx, tx, baseCurrency)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, tx.Account, positionKey(tx.Account, tx.Symbol))
	return p, nil
}

func (s *CachedStore) RecordCurrency(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.CurrencyBalance, error) {
	b, err := s.primary.RecordCurrency(ctx, tx, baseCurrency)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, tx.Account)
	return b, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var a model.Account
	if s.get(ctx, accountKey(address), &a) {
		return &a, nil
	}
	acc, err := s.primary.GetAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	s.set(ctx, accountKey(address), acc)
	return acc, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, account, sym string) (*model.Position, error) {
	var p model.Position
	if s.get(ctx, positionKey(account, sym), &p) {
		return &p, nil
	}
	pos, err := s.primary.GetPosition(ctx, account, sym)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionKey(account, sym), pos)
	return pos, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, account string, market symbol.Market) ([]model.Position, error) {
	var positions []model.Position
	if s.get(ctx, positionsKey(account, market), &positions) {
		return positions, nil
	}
	positions, err := s.primary.ListPositions(ctx, account, market)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionsKey(account, market), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, f)
}

func (s *CachedStore) ListCurrencyBalances(ctx context.Context, account string) ([]model.CurrencyBalance, error) {
	return s.primary.ListCurrencyBalances(ctx, account)
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", ErrStoreUnavailable, err)
	}
	return s.primary.Ping(ctx)
}

// --- Cache helpers ---

// Cache errors are never surfaced; a miss falls through to the primary.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, account string, extra ...string) {
	keys := append([]string{
		accountKey(account),
		positionsKey(account, ""),
		positionsKey(account, symbol.MarketPublic),
		positionsKey(account, symbol.MarketPrivate),
	}, extra...)
	s.rdb.Del(ctx, keys...)
}

func accountKey(addr string) string { return fmt.Sprintf("account:%s", addr) }
func positionKey(addr, sym string) string {
	return fmt.Sprintf("position:%s:%s", addr, sym)
}
func positionsKey(addr string, m symbol.Market) string {
	return fmt.Sprintf("positions:%s:%s", addr, m)
}
