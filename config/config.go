package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	AppPort   string                    `toml:"app_port"`
	LogLevel  string                    `toml:"log_level"`
	Collector CollectorConfig           `toml:"collector"`
	Arbitrage ArbitrageConfig           `toml:"arbitrage"`
	Alerts    AlertConfig               `toml:"alerts"`
	Exchange  map[string]ExchangeConfig `toml:"exchange"`
	Store     StoreConfig               `toml:"store"`
	Redis     RedisConfig               `toml:"redis"`
	Notify    NotifyConfig              `toml:"notify"`
}

type CollectorConfig struct {
	Symbols        []string `toml:"symbols"`
	Quote          string   `toml:"quote"`
	Exchanges      []string `toml:"exchanges"`
	Interval       duration `toml:"interval"`
	CycleTimeout   duration `toml:"cycle_timeout"`
	ShutdownGrace  duration `toml:"shutdown_grace"`
	BatchSize      int      `toml:"batch_size"`
	BatchDelay     duration `toml:"batch_delay"`
	MaxRetries     int      `toml:"max_retries"`
	RetryDelay     duration `toml:"retry_delay"`
	RequestTimeout duration `toml:"request_timeout"`
	OrderBookDepth int      `toml:"orderbook_depth"`
	MinSpreadPct   float64  `toml:"min_spread_pct"`
}

type ArbitrageConfig struct {
	// Threshold is the spread, in percent, from which an opportunity is profitable.
	Threshold float64 `toml:"threshold"`
}

type AlertConfig struct {
	RateWindow duration `toml:"rate_window"`
	HourlyCap  int      `toml:"hourly_cap"`
	QueueSize  int      `toml:"queue_size"`
	Workers    int      `toml:"workers"`
}

// ExchangeConfig holds per-exchange overrides. Every field is optional.
type ExchangeConfig struct {
	APIKey         string   `toml:"api_key"`
	Endpoints      []string `toml:"endpoints"`
	QuoteFallbacks []string `toml:"quote_fallbacks"`
}

type StoreConfig struct {
	Driver        string `toml:"driver"` // postgres or memory
	DatabaseURL   string `toml:"database_url"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the shared alert rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// duration decodes TOML strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Defaults() Config {
	return Config{
		AppPort:  "3000",
		LogLevel: "info",
		Collector: CollectorConfig{
			Symbols:        []string{"BTC", "ETH", "SOL", "XRP", "DOGE"},
			Quote:          "USDT",
			Exchanges:      []string{"binance", "bybit", "mexc", "kraken"},
			Interval:       duration{30 * time.Second},
			ShutdownGrace:  duration{10 * time.Second},
			BatchSize:      5,
			BatchDelay:     duration{250 * time.Millisecond},
			MaxRetries:     3,
			RetryDelay:     duration{time.Second},
			RequestTimeout: duration{10 * time.Second},
			OrderBookDepth: 20,
			MinSpreadPct:   0.0001,
		},
		Arbitrage: ArbitrageConfig{
			Threshold: 0.5,
		},
		Alerts: AlertConfig{
			RateWindow: duration{60 * time.Second},
			HourlyCap:  10,
			QueueSize:  256,
			Workers:    2,
		},
		Exchange: map[string]ExchangeConfig{},
		Store: StoreConfig{
			Driver:        "postgres",
			MaxConns:      10,
			RunMigrations: true,
		},
	}
}

// ExchangeOverrides returns the overrides for name, or the zero value.
func (c *Config) ExchangeOverrides(name string) ExchangeConfig {
	return c.Exchange[strings.ToLower(name)]
}

// Level is the parsed log level. An empty or unknown level reads as info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) Validate() error {
	var errs []string

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level %q is not a known level", c.LogLevel))
	}

	if len(c.Collector.Symbols) == 0 {
		errs = append(errs, "collector.symbols must not be empty")
	}
	if len(c.Collector.Exchanges) == 0 {
		errs = append(errs, "collector.exchanges must not be empty")
	}
	if c.Collector.Quote == "" {
		errs = append(errs, "collector.quote is required")
	}
	if c.Collector.Interval.Duration <= 0 {
		errs = append(errs, "collector.interval must be positive")
	}
	if c.Collector.BatchSize <= 0 {
		errs = append(errs, "collector.batch_size must be positive")
	}
	if c.Collector.BatchDelay.Duration < 0 {
		errs = append(errs, "collector.batch_delay must not be negative")
	}
	if c.Collector.MaxRetries <= 0 {
		errs = append(errs, "collector.max_retries must be positive")
	}
	if c.Collector.MinSpreadPct <= 0 {
		errs = append(errs, "collector.min_spread_pct must be positive")
	}
	if c.Arbitrage.Threshold < 0 {
		errs = append(errs, "arbitrage.threshold must not be negative")
	}
	if c.Alerts.HourlyCap <= 0 {
		errs = append(errs, "alerts.hourly_cap must be positive")
	}
	if c.Alerts.RateWindow.Duration <= 0 {
		errs = append(errs, "alerts.rate_window must be positive")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or memory", c.Store.Driver))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify.telegram_token and notify.telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
