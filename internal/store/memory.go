package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/accounting"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[key]*model.Position
	balances  map[key]*model.CurrencyBalance
	txs       []model.Transaction
	hashes    map[string]struct{}

	// fail, when set, is returned by every write. Tests use it to simulate
	// an outage after settlement.
	fail error
}

type key struct{ account, asset string }

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[key]*model.Position),
		balances:  make(map[key]*model.CurrencyBalance),
		hashes:    make(map[string]struct{}),
	}
}

// FailWrites makes subsequent writes return err; nil restores normal operation.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetAccount(_ context.Context, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, address)
	}
	cp := *a
	return &cp, nil
}

// check enforces the write preconditions shared by RecordTrade and
// RecordCurrency. Callers hold s.mu.
func (s *MemoryStore) check(tx *model.Transaction) error {
	if s.fail != nil {
		return s.fail
	}
	if _, dup := s.hashes[tx.TxHash]; dup && tx.TxHash != "" {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.TxHash)
	}
	return nil
}

// commit creates the account on first use and appends tx. Callers hold s.mu.
func (s *MemoryStore) commit(tx *model.Transaction, baseCurrency string) {
	if _, ok := s.accounts[tx.Account]; !ok {
		if baseCurrency == "" {
			baseCurrency = symbol.DefaultBaseCurrency
		}
		s.accounts[tx.Account] = &model.Account{
			Address:      tx.Account,
			BaseCurrency: baseCurrency,
			CreatedAt:    tx.Timestamp,
			UpdatedAt:    tx.Timestamp,
		}
	} else {
		s.accounts[tx.Account].UpdatedAt = tx.Timestamp
	}
	s.txs = append(s.txs, *tx)
	if tx.TxHash != "" {
		s.hashes[tx.TxHash] = struct{}{}
	}
}

func (s *MemoryStore) RecordTrade(_ context.Context, tx *model.Transaction, baseCurrency string) (*model.Position, error) {
	if !tx.IsTrade() {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNotPositionEvent, tx.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(tx); err != nil {
		return nil, err
	}
	k := key{tx.Account, tx.Symbol}
	next, err := accounting.Apply(s.positions[k], tx)
	if err != nil {
		return nil, err
	}
	s.positions[k] = &next
	s.commit(tx, baseCurrency)

	out := next
	return &out, nil
}

func (s *MemoryStore) RecordCurrency(_ context.Context, tx *model.Transaction, baseCurrency string) (*model.CurrencyBalance, error) {
	delta, err := currencyDelta(tx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(tx); err != nil {
		return nil, err
	}
	k := key{tx.Account, tx.Symbol}
	b, ok := s.balances[k]
	if !ok {
		b = &model.CurrencyBalance{Account: tx.Account, Currency: tx.Symbol}
		s.balances[k] = b
	}
	b.Balance = decimal.Max(b.Balance.Add(delta), decimal.Zero)
	b.UpdatedAt = tx.Timestamp
	s.commit(tx, baseCurrency)

	out := *b
	return &out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, account, sym string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key{account, sym}]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", ErrNotFound, account, sym)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, account string, market symbol.Market) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for k, p := range s.positions {
		if k.account != account || (market != "" && p.Market != market) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	// newest first; ties keep reverse insertion order
	for i := len(s.txs) - 1; i >= 0; i-- {
		t := s.txs[i]
		if t.Account != f.Account ||
			(f.Symbol != "" && t.Symbol != f.Symbol) ||
			(f.Market != "" && t.Market != f.Market) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListCurrencyBalances(_ context.Context, account string) ([]model.CurrencyBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CurrencyBalance
	for k, b := range s.balances {
		if k.account == account {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
