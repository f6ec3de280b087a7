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

var bybitEndpoints = []string{
	"https://api.bybit.com",
	"https://api.bytick.com",
}

// retCode for "params error: symbol invalid" / "Not supported symbols".
var bybitInvalidSymbol = map[int]bool{10001: true, 170121: true}

type BybitAdapter struct {
	*baseAdapter
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	Volume24h string `json:"volume24h"`
}

func NewBybitAdapter(opts Options) (*BybitAdapter, error) {
	headers := map[string]string{}
	if opts.APIKey != "" {
		headers["X-BAPI-API-KEY"] = opts.APIKey
	}

	base, err := newBaseAdapter("bybit", bybitEndpoints, opts, headers)
	if err != nil {
		return nil, err
	}

	b := &BybitAdapter{baseAdapter: base}
	base.fetchOne = b.fetchOrderBook
	base.ping = func(ctx context.Context, c *restClient) error {
		var raw struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
		}
		if err := c.getJSON(ctx, "/v5/market/time", nil, &raw); err != nil {
			return err
		}
		if raw.RetCode != 0 {
			return fmt.Errorf("bybit API error %d: %s", raw.RetCode, raw.RetMsg)
		}
		return nil
	}
	return b, nil
}

func (b *BybitAdapter) pair(symbol string) string {
	return strings.ToUpper(symbol) + strings.ToUpper(b.opts.Quote)
}

func (b *BybitAdapter) fetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	pair := b.pair(symbol)

	var raw struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
		} `json:"result"`
	}

	err := b.call(ctx, "orderbook", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("category", "spot")
		q.Set("symbol", pair)
		q.Set("limit", strconv.Itoa(min(b.opts.DepthLimit, 200)))
		if err := c.getJSON(ctx, "/v5/market/orderbook", q, &raw); err != nil {
			return err
		}
		return bybitRetCode(raw.RetCode, raw.RetMsg, pair)
	})
	if err != nil {
		return nil, err
	}

	bids, err := parseLevels(raw.Result.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook %s: %w", pair, err)
	}
	asks, err := parseLevels(raw.Result.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook %s: %w", pair, err)
	}

	return buildSnapshot(b.name, symbol, bids, asks, b.fetchVolume(ctx, pair), b.opts, time.Now()), nil
}

func (b *BybitAdapter) fetchVolume(ctx context.Context, pair string) *float64 {
	var raw struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []bybitTicker `json:"list"`
		} `json:"result"`
	}

	err := b.call(ctx, "ticker", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("category", "spot")
		q.Set("symbol", pair)
		if err := c.getJSON(ctx, "/v5/market/tickers", q, &raw); err != nil {
			return err
		}
		return bybitRetCode(raw.RetCode, raw.RetMsg, pair)
	})
	if err != nil || len(raw.Result.List) == 0 {
		b.logger.Debug().Err(err).Str("pair", pair).Msg("24h ticker unavailable")
		return nil
	}

	v, err := parseDecimal(raw.Result.List[0].Volume24h)
	if err != nil {
		return nil
	}
	return &v
}

func bybitRetCode(code int, msg, pair string) error {
	switch {
	case code == 0:
		return nil
	case bybitInvalidSymbol[code]:
		return fmt.Errorf("bybit %s: %w: %s", pair, ErrNoMarketPair, msg)
	default:
		return fmt.Errorf("bybit API error %d: %s", code, msg)
	}
}
