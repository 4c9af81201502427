package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
)

// Simulated is a single-node ledger kept in Pebble. Each settlement is one
// synced batch, so a returned hash means the movement is durable.
type Simulated struct {
	db  *pebble.DB
	mu  sync.Mutex
	log *zap.Logger
}

var _ Ledger = (*Simulated)(nil)

// keys: b:<account>:<ASSET> -> int64, n -> uint64 nonce
var nonceKey = []byte("n")

func balanceKey(account, asset string) []byte {
	return []byte("b:" + strings.ToLower(account) + ":" + strings.ToUpper(asset))
}

// OpenSimulated opens the ledger at dir. An empty dir keeps everything in memory.
func OpenSimulated(dir string, log *zap.Logger) (*Simulated, error) {
	opts := &pebble.Options{}
	path := dir
	if dir == "" {
		opts.FS = vfs.NewMem()
		path = "ledger"
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %q: %w", dir, err)
	}
	return &Simulated{db: db, log: log}, nil
}

func (s *Simulated) Close() error { return s.db.Close() }

type delta struct {
	account string
	asset   string
	amount  int64
}

func (s *Simulated) SettleBuy(ctx context.Context, o Order) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	gross, err := o.Gross()
	if err != nil {
		return "", err
	}
	return s.commit(ctx, "buy", o.Account, []delta{
		{o.Account, o.Currency, -int64(gross + o.Fee)},
		{o.FeeWallet, o.Currency, int64(o.Fee)},
		{o.Account, o.Symbol, int64(o.Quantity)},
	})
}

func (s *Simulated) SettleSell(ctx context.Context, o Order) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	gross, err := o.Gross()
	if err != nil {
		return "", err
	}
	if o.Fee > gross {
		return "", fmt.Errorf("%w: fee %d exceeds proceeds %d", ErrInvalidOrder, o.Fee, gross)
	}
	return s.commit(ctx, "sell", o.Account, []delta{
		{o.Account, o.Symbol, -int64(o.Quantity)},
		{o.Account, o.Currency, int64(gross - o.Fee)},
		{o.FeeWallet, o.Currency, int64(o.Fee)},
	})
}

func (s *Simulated) Mint(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: mint amount %d", ErrInvalidOrder, amount)
	}
	return s.commit(ctx, "mint", account, []delta{{account, asset, int64(amount)}})
}

func (s *Simulated) Burn(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: burn amount %d", ErrInvalidOrder, amount)
	}
	return s.commit(ctx, "burn", account, []delta{{account, asset, -int64(amount)}})
}

func (s *Simulated) Balance(ctx context.Context, account, asset string) (fixedpoint.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := s.read(balanceKey(account, asset))
	return fixedpoint.Amount(v), err
}

func (s *Simulated) read(key []byte) (int64, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger read: %w", err)
	}
	defer closer.Close()
	return int64(binary.BigEndian.Uint64(val)), nil
}

func encode(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// commit applies deltas in order; any balance going negative aborts the whole
// settlement with ErrInsufficientFunds and nothing is written.
func (s *Simulated) commit(ctx context.Context, op, account string, deltas []delta) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]int64, len(deltas))
	for _, d := range deltas {
		if d.amount == 0 {
			continue
		}
		key := string(balanceKey(d.account, d.asset))
		cur, ok := next[key]
		if !ok {
			v, err := s.read([]byte(key))
			if err != nil {
				return "", err
			}
			cur = v
		}
		cur += d.amount
		if cur < 0 {
			return "", fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds,
				d.account, fixedpoint.Amount(cur-d.amount).Decimal(), strings.ToUpper(d.asset),
				fixedpoint.Amount(-d.amount).Decimal())
		}
		next[key] = cur
	}

	nonce, err := s.read(nonceKey)
	if err != nil {
		return "", err
	}
	nonce++

	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range next {
		if err := b.Set([]byte(k), encode(v), nil); err != nil {
			return "", err
		}
	}
	if err := b.Set(nonceKey, encode(nonce), nil); err != nil {
		return "", err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%s", op, nonce, strings.ToLower(account)))).Hex()
	s.log.Debug("ledger committed",
		zap.String("op", op),
		zap.String("account", account),
		zap.Int64("nonce", nonce),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}
