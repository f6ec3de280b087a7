package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
)

var mexcEndpoints = []string{
	"https://api.mexc.com",
}

// MexcAdapter reads the MEXC spot v3 API, which mirrors Binance's shapes.
type MexcAdapter struct {
	*baseAdapter
}

func NewMexcAdapter(opts Options) (*MexcAdapter, error) {
	headers := map[string]string{}
	if opts.APIKey != "" {
		headers["X-MEXC-APIKEY"] = opts.APIKey
	}

	base, err := newBaseAdapter("mexc", mexcEndpoints, opts, headers)
	if err != nil {
		return nil, err
	}

	m := &MexcAdapter{baseAdapter: base}
	base.fetchOne = m.fetchOrderBook
	base.ping = func(ctx context.Context, c *restClient) error {
		return c.getJSON(ctx, "/api/v3/ping", nil, nil)
	}
	return m, nil
}

// MEXC spot uses `TOKEN1TOKEN2` (e.g. BTCUSDT), unlike its futures API.
func (m *MexcAdapter) pair(symbol string) string {
	return strings.ToUpper(symbol) + strings.ToUpper(m.opts.Quote)
}

func (m *MexcAdapter) fetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	pair := m.pair(symbol)

	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}

	err := m.call(ctx, "depth", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("symbol", pair)
		q.Set("limit", strconv.Itoa(m.opts.DepthLimit))
		return binanceError(c.getJSON(ctx, "/api/v3/depth", q, &raw), pair)
	})
	if err != nil {
		return nil, err
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("mexc depth %s: %w", pair, err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("mexc depth %s: %w", pair, err)
	}

	return buildSnapshot(m.name, symbol, bids, asks, m.fetchVolume(ctx, pair), m.opts, time.Now()), nil
}

func (m *MexcAdapter) fetchVolume(ctx context.Context, pair string) *float64 {
	var raw struct {
		Volume string `json:"volume"`
	}

	err := m.call(ctx, "ticker", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("symbol", pair)
		return binanceError(c.getJSON(ctx, "/api/v3/ticker/24hr", q, &raw), pair)
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("pair", pair).Msg("24h ticker unavailable")
		return nil
	}

	v, err := parseDecimal(raw.Volume)
	if err != nil {
		return nil
	}
	return &v
}
