// Package config defines all configuration for the exchange daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via EXCHANGE_* environment variables. Every option has a
// development default, so the daemon starts with no file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Bus       BusConfig       `mapstructure:"bus"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests/sec per client
	RateBurst      int           `mapstructure:"rate_burst"`
}

// DatabaseConfig selects the optional persistence mirror. An empty DSN
// runs the exchange purely in memory.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// TradingConfig tunes order admission and settlement.
//
//   - StartingBalance: USDT credited on a user's first deposit call.
//   - SlippageCap: market-buy reservation headroom over best ask (0.05 = 5%).
//   - QueueSize: per-pair writer queue depth; full queue → Overloaded.
//   - SnapshotEvery / SnapshotInterval: full book snapshot cadence between
//     level deltas, whichever trips first.
type TradingConfig struct {
	StartingBalance  float64       `mapstructure:"starting_balance"`
	SlippageCap      float64       `mapstructure:"slippage_cap"`
	QueueSize        int           `mapstructure:"queue_size"`
	SnapshotEvery    int           `mapstructure:"snapshot_every"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// SimulatorConfig controls the synthetic price/book producer for pairs
// without real flow.
type SimulatorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PriceInterval time.Duration `mapstructure:"price_interval"`
	BookInterval  time.Duration `mapstructure:"book_interval"`
	Depth         int           `mapstructure:"depth"`
}

type BusConfig struct {
	QueueLimit int `mapstructure:"queue_limit"` // outstanding events per subscriber
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("trading.starting_balance", 10000.0)
	v.SetDefault("trading.slippage_cap", 0.05)
	v.SetDefault("trading.queue_size", 128)
	v.SetDefault("trading.snapshot_every", 20)
	v.SetDefault("trading.snapshot_interval", 10*time.Second)

	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.price_interval", 5*time.Second)
	v.SetDefault("simulator.book_interval", 2*time.Second)
	v.SetDefault("simulator.depth", 15)

	v.SetDefault("bus.queue_limit", 256)

	v.SetDefault("logging.level", "info")
}

// Load reads config from a YAML file with env var overrides. A missing
// file is not an error; defaults apply. Sensitive fields use env vars:
// EXCHANGE_JWT_SECRET, EXCHANGE_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit path must exist; the default search may come up empty.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if secret := os.Getenv("EXCHANGE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("EXCHANGE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set EXCHANGE_JWT_SECRET)")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("auth token TTLs must be > 0")
	}
	if c.Trading.StartingBalance < 0 {
		return fmt.Errorf("trading.starting_balance must be >= 0")
	}
	if c.Trading.SlippageCap <= 0 || c.Trading.SlippageCap >= 1 {
		return fmt.Errorf("trading.slippage_cap must be in (0, 1)")
	}
	if c.Trading.QueueSize <= 0 {
		return fmt.Errorf("trading.queue_size must be > 0")
	}
	if c.Simulator.Depth <= 0 {
		return fmt.Errorf("simulator.depth must be > 0")
	}
	if c.Bus.QueueLimit <= 0 {
		return fmt.Errorf("bus.queue_limit must be > 0")
	}
	return nil
}

// Addr is the host:port the API server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
