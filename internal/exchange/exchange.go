package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/retry"
)

// ErrNoMarketPair means the exchange does not list a tradable pair for the
// requested symbol and quote. Adapters never substitute another pair.
var ErrNoMarketPair = errors.New("no market pair")

type Exchange interface {
	Name() string
	FetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error)
	FetchBatch(ctx context.Context, symbols []string) *BatchResult
	TestConnection(ctx context.Context) bool
	Status() models.ConnectionStatus
}

// Holds every snapshot a batch produced plus the per-symbol failures.
type BatchResult struct {
	Exchange string
	Books    map[string]*models.OrderBookSnapshot
	Failed   map[string]error
}

// Options shared by every adapter. Zero values fall back to defaults, except
// BatchDelay where zero disables the pause between groups.
type Options struct {
	Quote          string
	APIKey         string
	Endpoints      []string // overrides the adapter's built-in endpoint list
	QuoteFallbacks []string // extra quotes accepted when Quote is not listed (kraken)
	DepthLimit     int
	Timeout        time.Duration
	Retry          retry.Policy
	BatchSize      int
	BatchDelay     time.Duration
	MinSpreadPct   float64
}

const (
	DefaultQuote        = "USDT"
	DefaultDepthLimit   = 20
	DefaultTimeout      = 10 * time.Second
	DefaultBatchSize    = 5
	DefaultBatchDelay   = 250 * time.Millisecond
	DefaultMinSpreadPct = 0.0001
)

func (o Options) withDefaults() Options {
	if o.Quote == "" {
		o.Quote = DefaultQuote
	}
	if o.DepthLimit <= 0 {
		o.DepthLimit = DefaultDepthLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.NewPolicy(o.Retry.MaxAttempts, o.Retry.BaseDelay)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	if o.MinSpreadPct <= 0 {
		o.MinSpreadPct = DefaultMinSpreadPct
	}
	return o
}

// New builds the adapter registered under name.
func New(name string, opts Options) (Exchange, error) {
	switch name {
	case "binance":
		return NewBinanceAdapter(opts)
	case "bybit":
		return NewBybitAdapter(opts)
	case "mexc":
		return NewMexcAdapter(opts)
	case "kraken":
		return NewKrakenAdapter(opts)
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}

// Names lists every exchange New understands.
func Names() []string {
	return []string{"binance", "bybit", "mexc", "kraken"}
}
