package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.001", cfg.FeeRate.String())
	assert.Equal(t, int32(0), cfg.Fee.Precision)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.Database.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, "simulated", cfg.Ledger.Driver)
	assert.Equal(t, "90", cfg.FXRates["INR"].String())
	assert.Equal(t, "0.92", cfg.FXRates["EUR"].String())
	assert.Equal(t, "7.2", cfg.FXRates["CNY"].String())
	assert.Equal(t, "1", cfg.FXRates["USD"].String())

	assert.ErrorIs(t, cfg.Validate(), ErrMissingFeeWallet)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Setenv("ADMIN_FEE_WALLET", "0xfee")
	t.Setenv("FEE_PERCENTAGE", "0.0025")
	t.Setenv("DATABASE_URL", "postgres://localhost/ssa_exchange")
	t.Setenv("MY_ADDR", "0xmodule")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0xfee", cfg.Fee.Wallet)
	assert.Equal(t, "0.0025", cfg.FeeRate.String())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "0xmodule", cfg.Ledger.ModuleAddress)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
fee:
  wallet: "0xfromfile"
  precision: 6
ledger:
  driver: gateway
  gateway_url: http://ledger.local
  timeout: 12s
database:
  sqlite_path: /tmp/exchange.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0xfromfile", cfg.Fee.Wallet)
	assert.Equal(t, int32(6), cfg.Fee.Precision)
	assert.Equal(t, 12*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsBadFee(t *testing.T) {
	t.Setenv("FEE_PERCENTAGE", "abc")
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("FEE_PERCENTAGE", "1.5")
	_, err = Load(t.TempDir())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_GatewayNeedsURL(t *testing.T) {
	cfg := Config{
		Fee:      Fee{Wallet: "0xfee"},
		Ledger:   Ledger{Driver: "gateway"},
		Database: Database{Driver: "memory"},
	}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
