// Package app builds the engine's collaborators from configuration. The
// server and exchangectl share it so both talk to the same store, ledger,
// oracle and reconcile queue.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/ledger"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
	"github.com/ssa-exchange/settlement-engine/internal/store"
)

type App struct {
	Config config.Config
	Log    *zap.Logger
	Store  store.Store
	Ledger ledger.Ledger
	Oracle *oracle.Oracle
	Queue  reconcile.Queue
	Redis  *redis.Client // nil when redis.url is unset

	cleanup []func()
}

// New connects everything cfg describes. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	if a.Config.Redis.URL != "" {
		opt, err := redis.ParseURL(a.Config.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		a.Redis = redis.NewClient(opt)
		a.onClose(func() { a.Redis.Close() })
		a.Log.Info("redis enabled")
	}

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openLedger(); err != nil {
		return err
	}
	a.Oracle = NewOracle(a.Config, a.Redis, a.Log)

	if a.Redis != nil {
		a.Queue = reconcile.NewRedisQueue(a.Redis)
	} else {
		a.Queue = reconcile.NewMemoryQueue()
	}
	return nil
}

// Fees is the configured fee schedule.
func (a *App) Fees() sizing.FeeSchedule {
	return sizing.FeeSchedule{Rate: a.Config.FeeRate, Precision: a.Config.Fee.Precision}
}

func (a *App) openStore(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case "postgres":
		pool, err := store.NewPool(ctx, db)
		if err != nil {
			return err
		}
		a.onClose(pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}
		a.Store = store.NewPostgresStore(pool)
		a.Log.Info("connected to PostgreSQL", zap.Int32("max_conns", pool.Config().MaxConns))
	case "sqlite":
		gs, err := store.OpenSQLite(db.SQLitePath)
		if err != nil {
			return err
		}
		a.onClose(func() { gs.Close() })
		a.Store = gs
		a.Log.Info("opened SQLite store", zap.String("path", db.SQLitePath))
	default:
		a.Log.Warn("no database configured, using in-memory store (data will not persist)")
		a.Store = store.NewMemoryStore()
		return nil
	}

	if a.Redis != nil {
		a.Store = store.NewCachedStore(a.Store, a.Redis, a.Config.Redis.TTL)
		a.Log.Info("redis read-through cache enabled", zap.Duration("ttl", a.Config.Redis.TTL))
	}
	return nil
}

func (a *App) openLedger() error {
	lc := a.Config.Ledger
	switch lc.Driver {
	case "gateway":
		a.Ledger = ledger.NewGatewayClient(lc.GatewayURL, lc.ModuleAddress, lc.RateLimit, a.Log)
		a.Log.Info("using settlement gateway", zap.String("url", lc.GatewayURL))
	default:
		sim, err := ledger.OpenSimulated(lc.DataDir, a.Log)
		if err != nil {
			return err
		}
		a.onClose(func() { sim.Close() })
		a.Ledger = sim
		if lc.DataDir == "" {
			a.Log.Warn("simulated ledger is in memory; balances are lost on exit")
		}
	}
	return nil
}

// NewOracle builds the price oracle alone, for callers that need quotes
// without a store or ledger. rdb may be nil.
func NewOracle(cfg config.Config, rdb *redis.Client, log *zap.Logger) *oracle.Oracle {
	oc := cfg.Oracle
	opts := oracle.Options{
		CacheTTL: oc.CacheTTL,
		Timeout:  oc.Timeout,
		FX:       cfg.FXRates,
	}
	if oc.Live {
		opts.Live = oracle.NewYahooSource(oc.BaseURL, oc.RateLimit, log)
	}
	if oc.CacheTTL > 0 {
		if rdb != nil {
			opts.Cache = oracle.NewRedisCache(rdb)
		} else {
			opts.Cache = oracle.NewMemoryCache()
		}
	}
	return oracle.New(opts, log)
}

func (a *App) onClose(fn func()) { a.cleanup = append(a.cleanup, fn) }

// Close releases everything New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
