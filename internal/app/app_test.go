package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/ledger"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
	"github.com/ssa-exchange/settlement-engine/internal/store"
)

func baseConfig() config.Config {
	return config.Config{
		Database: config.Database{Driver: "memory"},
		Fee:      config.Fee{Wallet: "0xfee", Precision: 2},
		Ledger:   config.Ledger{Driver: "simulated"},
		FeeRate:  decimal.RequireFromString("0.001"),
		FXRates:  map[string]decimal.Decimal{"INR": decimal.NewFromInt(90)},
	}
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemoryStore{}, a.Store)
	assert.IsType(t, &ledger.Simulated{}, a.Ledger)
	assert.IsType(t, &reconcile.MemoryQueue{}, a.Queue)
	assert.Nil(t, a.Redis)

	fees := a.Fees()
	assert.Equal(t, int32(2), fees.Precision)
	assert.True(t, decimal.RequireFromString("0.001").Equal(fees.Rate))

	q, err := a.Oracle.Price(context.Background(), "AAPL", "INR")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("17028").Equal(q.Price), "fallback 189.20 x 90")
}

func TestNew_SQLiteAndPersistentLedger(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()
	cfg.Database = config.Database{Driver: "sqlite", SQLitePath: filepath.Join(dir, "engine.db")}
	cfg.Ledger.DataDir = filepath.Join(dir, "ledger")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.GormStore{}, a.Store)
	require.NoError(t, a.Store.Ping(context.Background()))
}

func TestNew_GatewayLedger(t *testing.T) {
	cfg := baseConfig()
	cfg.Ledger = config.Ledger{Driver: "gateway", GatewayURL: "http://127.0.0.1:1"}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &ledger.GatewayClient{}, a.Ledger)
}

func TestNew_BadRedisURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Redis.URL = "not a url"
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
