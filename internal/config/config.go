// Package config loads the engine configuration from an optional .env file,
// an optional config.yml and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	// ErrMissingFeeWallet is fatal: no trade can settle without a fee recipient.
	ErrMissingFeeWallet = errors.New("config: ADMIN_FEE_WALLET not configured")
	ErrInvalid          = errors.New("config: invalid value")
)

// Config holds all configuration for the engine.
type Config struct {
	Server   Server            `mapstructure:"server"`
	Database Database          `mapstructure:"database"`
	Redis    Redis             `mapstructure:"redis"`
	Fee      Fee               `mapstructure:"fee"`
	Ledger   Ledger            `mapstructure:"ledger"`
	Oracle   Oracle            `mapstructure:"oracle"`
	FX       map[string]string `mapstructure:"fx"`
	Logger   Logger            `mapstructure:"logger"`

	// Parsed from the string fields above by Load.
	FeeRate decimal.Decimal            `mapstructure:"-"`
	FXRates map[string]decimal.Decimal `mapstructure:"-"`
}

type Server struct {
	Port int `mapstructure:"port"`
}

// Database selects and tunes the position store. Driver is one of
// postgres, sqlite or memory; when empty it is inferred from URL/SQLitePath.
type Database struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	MaxConns       int32         `mapstructure:"max_conns"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type Redis struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// Fee describes the trading fee. Percentage is a fraction ("0.001" = 0.1%);
// Precision is the number of decimal places the fee amount is floored to.
type Fee struct {
	Percentage string `mapstructure:"percentage"`
	Wallet     string `mapstructure:"wallet"`
	Precision  int32  `mapstructure:"precision"`
}

type Ledger struct {
	Driver        string        `mapstructure:"driver"`
	GatewayURL    string        `mapstructure:"gateway_url"`
	ModuleAddress string        `mapstructure:"module_address"`
	DataDir       string        `mapstructure:"data_dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
}

type Oracle struct {
	Live      bool          `mapstructure:"live"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from dir/.env, dir/config.yml and the environment.
// Missing files are not an error.
func Load(dir string) (Config, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Names the deployment scripts already export.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("fee.percentage", "FEE_PERCENTAGE")
	_ = v.BindEnv("fee.wallet", "FEE_WALLET", "ADMIN_FEE_WALLET")
	_ = v.BindEnv("ledger.module_address", "LEDGER_MODULE_ADDRESS", "MY_ADDR")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.parse(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.sqlite_path", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.idle_timeout", 30*time.Second)
	v.SetDefault("database.connect_timeout", 2*time.Second)
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("fee.percentage", "0.001")
	v.SetDefault("fee.precision", 0)
	v.SetDefault("ledger.driver", "simulated")
	v.SetDefault("ledger.gateway_url", "")
	v.SetDefault("ledger.data_dir", "")
	v.SetDefault("ledger.timeout", 30*time.Second)
	v.SetDefault("ledger.rate_limit", 10)
	v.SetDefault("oracle.live", true)
	v.SetDefault("oracle.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("oracle.timeout", 5*time.Second)
	v.SetDefault("oracle.cache_ttl", time.Duration(0))
	v.SetDefault("oracle.rate_limit", 5)
	v.SetDefault("fx", map[string]string{
		"USD": "1",
		"INR": "90",
		"CNY": "7.2",
		"EUR": "0.92",
	})
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// parse converts the string-typed money settings into decimals and resolves
// the store driver.
func (c *Config) parse() error {
	rate, err := decimal.NewFromString(c.Fee.Percentage)
	if err != nil {
		return fmt.Errorf("%w: fee.percentage %q", ErrInvalid, c.Fee.Percentage)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee.percentage must be in [0, 1), got %s", ErrInvalid, rate)
	}
	c.FeeRate = rate

	c.FXRates = make(map[string]decimal.Decimal, len(c.FX))
	for code, s := range c.FX {
		r, err := decimal.NewFromString(s)
		if err != nil || !r.IsPositive() {
			return fmt.Errorf("%w: fx.%s %q", ErrInvalid, code, s)
		}
		c.FXRates[strings.ToUpper(code)] = r
	}

	if c.Database.Driver == "" {
		switch {
		case c.Database.URL != "":
			c.Database.Driver = "postgres"
		case c.Database.SQLitePath != "":
			c.Database.Driver = "sqlite"
		default:
			c.Database.Driver = "memory"
		}
	}
	return nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Fee.Wallet) == "" {
		return ErrMissingFeeWallet
	}
	switch c.Ledger.Driver {
	case "simulated":
	case "gateway":
		if c.Ledger.GatewayURL == "" {
			return fmt.Errorf("%w: ledger.gateway_url is required for the gateway driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: ledger.driver %q", ErrInvalid, c.Ledger.Driver)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("%w: database.driver %q", ErrInvalid, c.Database.Driver)
	}
	return nil
}
