package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suwandre/arbwatch/internal/cache"
	"github.com/suwandre/arbwatch/internal/models"
)

var krakenEndpoints = []string{
	"https://api.kraken.com",
}

// Kraken keeps legacy tickers for a few assets.
var krakenAssetAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

const krakenPairsTTL = time.Hour

type KrakenAdapter struct {
	*baseAdapter
	pairs *cache.TTL[string, map[string]string]
}

// Every Kraken public response is wrapped in {"error": [...], "result": ...}.
type krakenEnvelope[T any] struct {
	Error  []string `json:"error"`
	Result T        `json:"result"`
}

func (e krakenEnvelope[T]) err(pair string) error {
	if len(e.Error) == 0 {
		return nil
	}
	msg := strings.Join(e.Error, "; ")
	if strings.Contains(msg, "Unknown asset pair") {
		return fmt.Errorf("kraken %s: %w", pair, ErrNoMarketPair)
	}
	return fmt.Errorf("kraken API error: %s", msg)
}

func NewKrakenAdapter(opts Options) (*KrakenAdapter, error) {
	headers := map[string]string{}
	if opts.APIKey != "" {
		headers["API-Key"] = opts.APIKey
	}

	base, err := newBaseAdapter("kraken", krakenEndpoints, opts, headers)
	if err != nil {
		return nil, err
	}

	k := &KrakenAdapter{
		baseAdapter: base,
		pairs:       cache.NewTTL[string, map[string]string](),
	}
	base.fetchOne = k.fetchOrderBook
	base.ping = func(ctx context.Context, c *restClient) error {
		var env krakenEnvelope[struct {
			Status string `json:"status"`
		}]
		if err := c.getJSON(ctx, "/0/public/SystemStatus", nil, &env); err != nil {
			return err
		}
		if err := env.err(""); err != nil {
			return err
		}
		if env.Result.Status != "online" {
			return fmt.Errorf("kraken system status %q", env.Result.Status)
		}
		return nil
	}
	return k, nil
}

// loadPairs maps "BASE/QUOTE" websocket names to REST pair names.
func (k *KrakenAdapter) loadPairs(ctx context.Context) (map[string]string, error) {
	if pairs, ok := k.pairs.Get("all"); ok {
		return pairs, nil
	}

	var env krakenEnvelope[map[string]struct {
		Altname string `json:"altname"`
		Wsname  string `json:"wsname"`
	}]

	err := k.call(ctx, "asset pairs", func(ctx context.Context, c *restClient) error {
		if err := c.getJSON(ctx, "/0/public/AssetPairs", nil, &env); err != nil {
			return err
		}
		return env.err("")
	})
	if err != nil {
		return nil, err
	}

	pairs := make(map[string]string, len(env.Result))
	for _, p := range env.Result {
		if p.Wsname != "" && p.Altname != "" {
			pairs[p.Wsname] = p.Altname
		}
	}
	k.pairs.Set("all", pairs, krakenPairsTTL)
	return pairs, nil
}

// resolvePair finds the Kraken pair for symbol against the configured quote,
// then each explicit fallback quote. It never picks anything else.
func (k *KrakenAdapter) resolvePair(ctx context.Context, symbol string) (string, error) {
	pairs, err := k.loadPairs(ctx)
	if err != nil {
		return "", err
	}

	base := strings.ToUpper(symbol)
	if alias, ok := krakenAssetAliases[base]; ok {
		base = alias
	}

	quotes := append([]string{k.opts.Quote}, k.opts.QuoteFallbacks...)
	for _, q := range quotes {
		if alt, ok := pairs[base+"/"+strings.ToUpper(q)]; ok {
			return alt, nil
		}
	}
	return "", fmt.Errorf("kraken %s/%s: %w", base, k.opts.Quote, ErrNoMarketPair)
}

type krakenBook struct {
	Asks [][]any `json:"asks"` // ["price", "volume", timestamp]
	Bids [][]any `json:"bids"`
}

func (k *KrakenAdapter) fetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	pair, err := k.resolvePair(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var env krakenEnvelope[map[string]krakenBook]
	err = k.call(ctx, "depth", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("pair", pair)
		q.Set("count", strconv.Itoa(k.opts.DepthLimit))
		if err := c.getJSON(ctx, "/0/public/Depth", q, &env); err != nil {
			return err
		}
		return env.err(pair)
	})
	if err != nil {
		return nil, err
	}

	// The result is keyed by Kraken's canonical pair name, which can differ
	// from the altname we asked for.
	if len(env.Result) != 1 {
		return nil, fmt.Errorf("kraken depth %s: expected one book, got %d", pair, len(env.Result))
	}
	var book krakenBook
	for _, b := range env.Result {
		book = b
	}

	bids, err := parseLevels(krakenLevels(book.Bids))
	if err != nil {
		return nil, fmt.Errorf("kraken depth %s: %w", pair, err)
	}
	asks, err := parseLevels(krakenLevels(book.Asks))
	if err != nil {
		return nil, fmt.Errorf("kraken depth %s: %w", pair, err)
	}

	return buildSnapshot(k.name, symbol, bids, asks, k.fetchVolume(ctx, pair), k.opts, time.Now()), nil
}

func (k *KrakenAdapter) fetchVolume(ctx context.Context, pair string) *float64 {
	var env krakenEnvelope[map[string]struct {
		Volume []string `json:"v"` // [today, last 24 hours]
	}]

	err := k.call(ctx, "ticker", func(ctx context.Context, c *restClient) error {
		q := url.Values{}
		q.Set("pair", pair)
		if err := c.getJSON(ctx, "/0/public/Ticker", q, &env); err != nil {
			return err
		}
		return env.err(pair)
	})
	if err != nil {
		k.logger.Debug().Err(err).Str("pair", pair).Msg("24h ticker unavailable")
		return nil
	}

	for _, t := range env.Result {
		if len(t.Volume) < 2 {
			return nil
		}
		v, err := parseDecimal(t.Volume[1])
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}

// Kraken levels mix strings and numbers; keep the price and volume as text.
func krakenLevels(raw [][]any) [][]string {
	out := make([][]string, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			out = append(out, nil)
			continue
		}
		out = append(out, []string{fmt.Sprint(lv[0]), fmt.Sprint(lv[1])})
	}
	return out
}
