package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultsNeedDatabaseURL(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "database_url") {
		t.Fatalf("expected database_url error, got %v", err)
	}

	cfg.Store.Driver = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "memory"
	cfg.Collector.Symbols = nil
	cfg.Collector.BatchSize = 0
	cfg.Arbitrage.Threshold = -1
	cfg.Collector.MinSpreadPct = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"symbols", "batch_size", "threshold", "min_spread_pct", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbwatch.toml")
	body := `
app_port = "8080"

[collector]
symbols = ["btc", "eth"]
interval = "15s"
batch_size = 3

[exchange.kraken]
quote_fallbacks = ["USD"]

[store]
driver = "memory"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BATCH_SIZE", "4")
	t.Setenv("BATCH_DELAY", "300")
	t.Setenv("BINANCE_ENDPOINTS", "https://a.example, https://b.example")
	t.Setenv("ARBITRAGE_THRESHOLD", "0.25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.AppPort != "8080" {
		t.Errorf("app port = %s", cfg.AppPort)
	}
	if got := strings.Join(cfg.Collector.Symbols, ","); got != "BTC,ETH" {
		t.Errorf("symbols = %s", got)
	}
	if cfg.Collector.Interval.Duration != 15*time.Second {
		t.Errorf("interval = %s", cfg.Collector.Interval.Duration)
	}
	if cfg.Collector.BatchSize != 4 {
		t.Errorf("env should override file, batch size = %d", cfg.Collector.BatchSize)
	}
	if cfg.Collector.BatchDelay.Duration != 300*time.Millisecond {
		t.Errorf("batch delay = %s", cfg.Collector.BatchDelay.Duration)
	}
	if cfg.Arbitrage.Threshold != 0.25 {
		t.Errorf("threshold = %v", cfg.Arbitrage.Threshold)
	}
	if eps := cfg.ExchangeOverrides("binance").Endpoints; len(eps) != 2 || eps[1] != "https://b.example" {
		t.Errorf("binance endpoints = %v", eps)
	}
	if fb := cfg.ExchangeOverrides("kraken").QuoteFallbacks; len(fb) != 1 || fb[0] != "USD" {
		t.Errorf("kraken fallbacks = %v", fb)
	}
}

func TestLoadEmptyLogLevelMeansInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbwatch.toml")
	body := `
log_level = ""

[store]
driver = "memory"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("log level = %q (%s), want info", cfg.LogLevel, cfg.Level())
	}

	cfg.LogLevel = " Debug "
	normalize(cfg)
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("level = %s, want debug", cfg.Level())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
