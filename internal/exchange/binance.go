package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
)

// Alternate hosts serve the same spot API. data-api.binance.vision only
// serves public market data, which is all we need.
var binanceEndpoints = []string{
	"https://api.binance.com",
	"https://api1.binance.com",
	"https://api2.binance.com",
	"https://api3.binance.com",
	"https://data-api.binance.vision",
}

// Binance rejects unknown pairs with HTTP 400 and this code.
const binanceInvalidSymbol = -1121

// BinanceAdapter reads the Binance spot REST API.
type BinanceAdapter struct {
	*baseAdapter
}

// Constructor function. Creates a new BinanceAdapter instance.
func NewBinanceAdapter(opts Options) (*BinanceAdapter, error) {
	headers := map[string]string{}
	if opts.APIKey != "" {
		headers["X-MBX-APIKEY"] = opts.APIKey
	}

	base, err := newBaseAdapter("binance", binanceEndpoints, opts, headers)
	if err != nil {
		return nil, err
	}

	b := &BinanceAdapter{baseAdapter: base}
	base.fetchOne = b.fetchOrderBook
	base.ping = func(ctx context.Context, c *restClient) error {
		return c.getJSON(ctx, "/api/v3/ping", nil, nil)
	}
	return b, nil
}

func (b *BinanceAdapter) pair(symbol string) string {
	return strings.ToUpper(symbol) + strings.ToUpper(b.opts.Quote)
}

func (b *BinanceAdapter) fetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	pair := b.pair(symbol)

	var raw struct {
		Bids [][]string `json:"bids"` // each entry: ["price", "quantity"]
		Asks [][]string `json:"asks"`
	}

	err := b.call(ctx, "depth", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("symbol", pair)
		q.Set("limit", strconv.Itoa(binanceDepthLimit(b.opts.DepthLimit)))
		return binanceError(c.getJSON(ctx, "/api/v3/depth", q, &raw), pair)
	})
	if err != nil {
		return nil, err
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s: %w", pair, err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s: %w", pair, err)
	}

	return buildSnapshot(b.name, symbol, bids, asks, b.fetchVolume(ctx, pair), b.opts, time.Now()), nil
}

// Best effort: a failed ticker leaves volume nil instead of failing the book.
func (b *BinanceAdapter) fetchVolume(ctx context.Context, pair string) *float64 {
	var raw struct {
		Volume string `json:"volume"`
	}

	err := b.call(ctx, "ticker", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("symbol", pair)
		return binanceError(c.getJSON(ctx, "/api/v3/ticker/24hr", q, &raw), pair)
	})
	if err != nil {
		b.logger.Debug().Err(err).Str("pair", pair).Msg("24h ticker unavailable")
		return nil
	}

	v, err := parseDecimal(raw.Volume)
	if err != nil {
		return nil
	}
	return &v
}

// binanceError turns the invalid-symbol rejection into ErrNoMarketPair.
// MEXC shares the response shape.
func binanceError(err error, pair string) error {
	var he *HTTPError
	if errors.As(err, &he) && he.Status == 400 &&
		(strings.Contains(he.Body, strconv.Itoa(binanceInvalidSymbol)) || strings.Contains(strings.ToLower(he.Body), "invalid symbol")) {
		return fmt.Errorf("%s %s: %w", he.Exchange, pair, ErrNoMarketPair)
	}
	return err
}

// Binance only accepts a fixed set of depth limits.
func binanceDepthLimit(n int) int {
	for _, allowed := range []int{5, 10, 20, 50, 100, 500, 1000, 5000} {
		if n <= allowed {
			return allowed
		}
	}
	return 5000
}
