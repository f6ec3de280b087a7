package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Load builds the configuration from defaults, the optional TOML file at
// path, a .env file if present, and finally the environment. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading from environment directly")
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.AppPort, "APP_PORT")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	setStringSlice(&cfg.Collector.Symbols, "SYMBOLS")
	setStr(&cfg.Collector.Quote, "QUOTE_CURRENCY")
	setStringSlice(&cfg.Collector.Exchanges, "EXCHANGES")
	setDuration(&cfg.Collector.Interval, "COLLECT_INTERVAL")
	setDuration(&cfg.Collector.CycleTimeout, "CYCLE_TIMEOUT")
	setDuration(&cfg.Collector.ShutdownGrace, "SHUTDOWN_GRACE")
	setInt(&cfg.Collector.BatchSize, "BATCH_SIZE")
	setDuration(&cfg.Collector.BatchDelay, "BATCH_DELAY")
	setInt(&cfg.Collector.MaxRetries, "MAX_RETRIES")
	setDuration(&cfg.Collector.RetryDelay, "RETRY_DELAY")
	setDuration(&cfg.Collector.RequestTimeout, "REQUEST_TIMEOUT")
	setInt(&cfg.Collector.OrderBookDepth, "ORDERBOOK_DEPTH")
	setFloat64(&cfg.Collector.MinSpreadPct, "MIN_SPREAD_PCT")

	setFloat64(&cfg.Arbitrage.Threshold, "ARBITRAGE_THRESHOLD")

	setDuration(&cfg.Alerts.RateWindow, "ALERT_RATE_WINDOW")
	setInt(&cfg.Alerts.HourlyCap, "ALERT_HOURLY_CAP")
	setInt(&cfg.Alerts.QueueSize, "NOTIFY_QUEUE_SIZE")

	setStr(&cfg.Store.Driver, "STORE_DRIVER")
	setStr(&cfg.Store.DatabaseURL, "DATABASE_URL")
	setInt(&cfg.Store.MaxConns, "DB_MAX_CONNS")
	setBool(&cfg.Store.RunMigrations, "DB_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DISCORD_WEBHOOK_URL")

	if cfg.Exchange == nil {
		cfg.Exchange = map[string]ExchangeConfig{}
	}
	for _, name := range cfg.Collector.Exchanges {
		key := strings.ToLower(name)
		prefix := strings.ToUpper(name)
		ex := cfg.Exchange[key]
		setStr(&ex.APIKey, prefix+"_API_KEY")
		setStringSlice(&ex.Endpoints, prefix+"_ENDPOINTS")
		setStringSlice(&ex.QuoteFallbacks, prefix+"_QUOTE_FALLBACKS")
		cfg.Exchange[key] = ex
	}
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	for i, s := range cfg.Collector.Symbols {
		cfg.Collector.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, e := range cfg.Collector.Exchanges {
		cfg.Collector.Exchanges[i] = strings.ToLower(strings.TrimSpace(e))
	}
	cfg.Collector.Quote = strings.ToUpper(cfg.Collector.Quote)
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("30s") or bare milliseconds ("250").
func setDuration(dst *duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		dst.Duration = d
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		dst.Duration = time.Duration(ms) * time.Millisecond
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
