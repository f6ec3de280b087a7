package exchange

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suwandre/arbwatch/internal/models"
)

// Parses ["price", "quantity", ...] levels. Levels with a non-positive price
// or quantity are dropped.
func parseLevels(raw [][]string) ([]models.PriceLevel, error) {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			return nil, fmt.Errorf("malformed level %v", lv)
		}
		price, err := decimal.NewFromString(lv[0])
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", lv[0], err)
		}
		qty, err := decimal.NewFromString(lv[1])
		if err != nil {
			return nil, fmt.Errorf("invalid quantity %q: %w", lv[1], err)
		}
		if !price.IsPositive() || !qty.IsPositive() {
			continue
		}
		levels = append(levels, models.PriceLevel{
			Price:    price.InexactFloat64(),
			Quantity: qty.InexactFloat64(),
		})
	}
	return levels, nil
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// Sorts levels by price (descending for bids) and merges duplicate prices
// so the result is strictly monotonic.
func sortLevels(levels []models.PriceLevel, descending bool) []models.PriceLevel {
	sort.SliceStable(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})

	out := levels[:0]
	for _, lv := range levels {
		if n := len(out); n > 0 && out[n-1].Price == lv.Price {
			out[n-1].Quantity += lv.Quantity
			continue
		}
		out = append(out, lv)
	}
	return out
}

func truncateLevels(levels []models.PriceLevel, depth int) []models.PriceLevel {
	if depth > 0 && len(levels) > depth {
		return levels[:depth]
	}
	return levels
}

// buildSnapshot sorts both sides, computes the spread and applies the floor.
// An empty or crossed book is kept but marked degraded with its volume cleared.
func buildSnapshot(exchange, symbol string, bids, asks []models.PriceLevel, volume *float64, opts Options, takenAt time.Time) *models.OrderBookSnapshot {
	bids = truncateLevels(sortLevels(bids, true), opts.DepthLimit)
	asks = truncateLevels(sortLevels(asks, false), opts.DepthLimit)

	snap := &models.OrderBookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Volume24h: volume,
		TakenAt:   takenAt,
	}

	spread := 0.0
	if len(bids) > 0 && len(asks) > 0 {
		spread = models.PctChange(bids[0].Price, asks[0].Price)
	}
	if spread <= 0 {
		snap.Degraded = true
		snap.Volume24h = nil
	}
	if spread < opts.MinSpreadPct {
		spread = opts.MinSpreadPct
	}
	snap.SpreadPct = spread
	return snap
}
