package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"signal-trade-bot-go/internal/symbol"
)

// Config holds all configuration for the application.
type Config struct {
	Feed        Feed        `mapstructure:"feed"`
	Trading     Trading     `mapstructure:"trading"`
	Traders     []Route     `mapstructure:"traders"`
	Hyperliquid Hyperliquid `mapstructure:"hyperliquid"`
	Bybit       Bybit       `mapstructure:"bybit"`
	Ledger      Ledger      `mapstructure:"ledger"`
	Logger      Logger      `mapstructure:"logger"`
	Server      Server      `mapstructure:"server"`
	Metrics     Metrics     `mapstructure:"metrics"`
	Database    Database    `mapstructure:"database"`
}

// Feed holds the configuration of the signal source.
type Feed struct {
	BaseURL             string   `mapstructure:"base_url"`
	ActiveTradesChannel string   `mapstructure:"active_trades_channel"`
	TradeUpdatesChannel string   `mapstructure:"trade_updates_channel"`
	Dedup               string   `mapstructure:"dedup"` // "hash" or "seen_set"
	FollowedTraders     []string `mapstructure:"followed_traders"`
	PollInterval        int      `mapstructure:"poll_interval"` // seconds
	Timeout             int      `mapstructure:"timeout"`       // seconds
}

// Trading holds the configuration for sizing and order execution.
type Trading struct {
	RiskPerTrade           float64 `mapstructure:"risk_per_trade"`
	MinNotional            float64 `mapstructure:"min_notional"`
	CloseSlippage          float64 `mapstructure:"close_slippage"`
	DegenerateStopFallback bool    `mapstructure:"degenerate_stop_fallback"`
	DryRun                 bool    `mapstructure:"dry_run"`
}

// Route maps a followed trader to a venue account. Account selects the
// numbered credential set in the environment.
type Route struct {
	Name    string `mapstructure:"name"`
	Venue   string `mapstructure:"venue"`
	Account int    `mapstructure:"account"`
}

// Hyperliquid holds the configuration for the Hyperliquid API.
type Hyperliquid struct {
	BaseURL         string            `mapstructure:"base_url"`
	Testnet         bool              `mapstructure:"testnet"`
	RateLimit       float64           `mapstructure:"rate_limit"`
	RateLimitBurst  int               `mapstructure:"rate_limit_burst"`
	SymbolOverrides []symbol.Override `mapstructure:"symbol_overrides"`
}

// Bybit holds the configuration for the Bybit v5 API.
type Bybit struct {
	BaseURL         string            `mapstructure:"base_url"`
	Testnet         bool              `mapstructure:"testnet"`
	Category        string            `mapstructure:"category"`
	RecvWindow      int               `mapstructure:"recv_window"`
	RateLimit       float64           `mapstructure:"rate_limit"`
	RateLimitBurst  int               `mapstructure:"rate_limit_burst"`
	SymbolOverrides []symbol.Override `mapstructure:"symbol_overrides"`
}

// Ledger holds where the trade ledger is persisted.
type Ledger struct {
	Path string `mapstructure:"path"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Metrics holds the configuration for the Prometheus endpoint.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Database holds the configuration for the execution journal.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Venue names accepted in trader routes.
const (
	VenueHyperliquid = "hyperliquid"
	VenueBybit       = "bybit"
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}
	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.active_trades_channel", "active-trades")
	v.SetDefault("feed.trade_updates_channel", "trade-updates")
	v.SetDefault("feed.dedup", "hash")
	v.SetDefault("feed.poll_interval", 60)
	v.SetDefault("feed.timeout", 30)

	v.SetDefault("trading.risk_per_trade", 1.0)
	v.SetDefault("trading.min_notional", 10.0)
	v.SetDefault("trading.close_slippage", 0.20)

	v.SetDefault("hyperliquid.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("hyperliquid.rate_limit", 10)
	v.SetDefault("hyperliquid.rate_limit_burst", 5)

	v.SetDefault("bybit.base_url", "https://api.bybit.com")
	v.SetDefault("bybit.category", "linear")
	v.SetDefault("bybit.recv_window", 5000)
	v.SetDefault("bybit.rate_limit", 10)
	v.SetDefault("bybit.rate_limit_burst", 5)

	v.SetDefault("ledger.path", "data/ledger.json")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.dsn", "data/executions.db")
}

// Validate rejects configurations the trader cannot run with.
func (c Config) Validate() error {
	if c.Feed.Dedup != "hash" && c.Feed.Dedup != "seen_set" {
		return fmt.Errorf("feed.dedup must be hash or seen_set, got %q", c.Feed.Dedup)
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("feed.poll_interval must be positive")
	}
	if c.Trading.RiskPerTrade < 0 {
		return fmt.Errorf("trading.risk_per_trade must not be negative")
	}
	if c.Trading.MinNotional <= 0 {
		return fmt.Errorf("trading.min_notional must be positive")
	}
	for _, r := range c.Traders {
		switch r.Venue {
		case VenueHyperliquid, VenueBybit:
		default:
			return fmt.Errorf("trader %q: unknown venue %q", r.Name, r.Venue)
		}
		if r.Account <= 0 {
			return fmt.Errorf("trader %q: account must be >= 1", r.Name)
		}
	}
	return nil
}
