// Package reconcile holds operations that settled on the ledger but could not
// be written to the store, and replays them once the store is healthy.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/metrics"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/store"
)

// ErrEmpty is returned by Pop when nothing is queued.
var ErrEmpty = errors.New("reconcile: queue empty")

// Pending is one settled operation missing from the store.
type Pending struct {
	Tx           model.Transaction `json:"tx"`
	BaseCurrency string            `json:"baseCurrency"`
	Reason       string            `json:"reason"`
	FailedAt     time.Time         `json:"failedAt"`
	Attempts     int               `json:"attempts"`
}

// Queue is FIFO.
type Queue interface {
	Push(ctx context.Context, p Pending) error
	Pop(ctx context.Context) (Pending, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is a process-local Queue; entries are lost on restart.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Pending
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Push(_ context.Context, p Pending) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	metrics.ReconcileQueued.Set(float64(len(q.items)))
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Pending{}, ErrEmpty
	}
	p := q.items[0]
	q.items = q.items[1:]
	metrics.ReconcileQueued.Set(float64(len(q.items)))
	return p, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// RedisKey is the list RedisQueue uses.
const RedisKey = "reconcile:pending"

// RedisQueue keeps entries in a Redis list so they survive a restart and
// can be drained by exchangectl from another host.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue { return &RedisQueue{rdb: rdb} }

func (q *RedisQueue) Push(ctx context.Context, p Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending %s: %w", p.Tx.TxHash, err)
	}
	n, err := q.rdb.RPush(ctx, RedisKey, data).Result()
	if err != nil {
		return fmt.Errorf("push pending %s: %w", p.Tx.TxHash, err)
	}
	metrics.ReconcileQueued.Set(float64(n))
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Pending, error) {
	data, err := q.rdb.LPop(ctx, RedisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending{}, ErrEmpty
	}
	if err != nil {
		return Pending{}, fmt.Errorf("pop pending: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return Pending{}, fmt.Errorf("decode pending: %w", err)
	}
	return p, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, RedisKey).Result()
}

// Result summarizes one Drain pass.
type Result struct {
	Replayed   int `json:"replayed"`
	Duplicates int `json:"duplicates"`
	Requeued   int `json:"requeued"`
	Dropped    int `json:"dropped"`
}

// Replayer writes queued operations back into the store.
type Replayer struct {
	queue Queue
	store store.Store
	log   *zap.Logger
}

func NewReplayer(q Queue, st store.Store, log *zap.Logger) *Replayer {
	return &Replayer{queue: q, store: st, log: log}
}

// Drain replays at most the entries queued when it starts. Entries that fail
// with ErrStoreUnavailable are pushed back; entries the store rejects for
// any other reason are dropped and logged at ERROR for manual repair.
func (r *Replayer) Drain(ctx context.Context) (Result, error) {
	var res Result
	n, err := r.queue.Len(ctx)
	if err != nil {
		return res, err
	}

	for i := int64(0); i < n; i++ {
		p, err := r.queue.Pop(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			return res, err
		}

		err = r.replay(ctx, &p)
		switch {
		case err == nil:
			res.Replayed++
			r.log.Info("reconciled settled operation",
				zap.String("tx_hash", p.Tx.TxHash),
				zap.String("type", string(p.Tx.Type)),
				zap.Int("attempts", p.Attempts+1),
			)
		case errors.Is(err, store.ErrDuplicate):
			res.Duplicates++
		case errors.Is(err, store.ErrStoreUnavailable):
			p.Attempts++
			p.Reason = err.Error()
			if perr := r.queue.Push(ctx, p); perr != nil {
				return res, perr
			}
			res.Requeued++
		default:
			res.Dropped++
			r.log.Error("dropping unreplayable operation",
				zap.String("tx_hash", p.Tx.TxHash),
				zap.String("account", p.Tx.Account),
				zap.String("type", string(p.Tx.Type)),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

func (r *Replayer) replay(ctx context.Context, p *Pending) error {
	tx := p.Tx
	if tx.IsTrade() {
		_, err := r.store.RecordTrade(ctx, &tx, p.BaseCurrency)
		return err
	}
	_, err := r.store.RecordCurrency(ctx, &tx, p.BaseCurrency)
	return err
}

// Run drains every interval until ctx is done.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Drain(ctx)
			if err != nil {
				r.log.Warn("reconcile pass failed", zap.Error(err))
				continue
			}
			if res != (Result{}) {
				r.log.Info("reconcile pass",
					zap.Int("replayed", res.Replayed),
					zap.Int("duplicates", res.Duplicates),
					zap.Int("requeued", res.Requeued),
					zap.Int("dropped", res.Dropped),
				)
			}
		}
	}
}
