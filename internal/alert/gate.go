// Package alert decides which users get an alert for a profitable
// opportunity and hands created alerts to asynchronous delivery.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/store"
)

const (
	DefaultRateWindow = 60 * time.Second
	DefaultHourlyCap  = 10
	capWindow         = time.Hour
)

// AlertStore is the slice of store.Store the gate needs.
type AlertStore interface {
	CreateAlert(ctx context.Context, in store.NewAlert) (*models.Alert, error)
	UserAlertCount(ctx context.Context, userID int64, window time.Duration) (int, error)
}

// Candidate is a profitable opportunity about to be fanned out to users.
type Candidate struct {
	Exchange  string
	Symbol    string
	SpreadPct float64
	Metadata  map[string]any
}

type Outcome struct {
	Created     []*models.Alert
	RateLimited int
	CapReached  int
	Errors      int
}

// Gate enforces, per user, at most one alert per (user, symbol, exchange)
// per RateWindow and at most HourlyCap alerts per rolling hour. Issue holds
// one lock across check and create so concurrent callers cannot overshoot.
type Gate struct {
	mu         sync.Mutex
	store      AlertStore
	limiter    Limiter
	rateWindow time.Duration
	hourlyCap  int
}

func NewGate(st AlertStore, limiter Limiter, rateWindow time.Duration, hourlyCap int) *Gate {
	if rateWindow <= 0 {
		rateWindow = DefaultRateWindow
	}
	if hourlyCap <= 0 {
		hourlyCap = DefaultHourlyCap
	}
	return &Gate{
		store:      st,
		limiter:    limiter,
		rateWindow: rateWindow,
		hourlyCap:  hourlyCap,
	}
}

func rateKey(userID int64, symbol, exchange string) string {
	return fmt.Sprintf("%d:%s:%s", userID, symbol, exchange)
}

func (g *Gate) Issue(ctx context.Context, users []int64, c Candidate) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out Outcome
	for _, user := range users {
		logger := log.With().
			Int64("user", user).
			Str("exchange", c.Exchange).
			Str("symbol", c.Symbol).
			Logger()

		count, err := g.store.UserAlertCount(ctx, user, capWindow)
		if err != nil {
			logger.Error().Err(err).Msg("alert count lookup failed")
			out.Errors++
			continue
		}
		if count >= g.hourlyCap {
			logger.Debug().Int("count", count).Msg("hourly alert cap reached")
			out.CapReached++
			continue
		}

		key := rateKey(user, c.Symbol, c.Exchange)
		ok, err := g.limiter.Acquire(ctx, key, g.rateWindow)
		if err != nil {
			logger.Error().Err(err).Msg("rate limiter unavailable")
			out.Errors++
			continue
		}
		if !ok {
			logger.Debug().Msg("alert rate limited")
			out.RateLimited++
			continue
		}

		alert, err := g.store.CreateAlert(ctx, store.NewAlert{
			UserID:    user,
			Exchange:  c.Exchange,
			Symbol:    c.Symbol,
			SpreadPct: c.SpreadPct,
			Metadata:  c.Metadata,
		})
		if err != nil {
			// Release so the next cycle can retry.
			if rerr := g.limiter.Release(ctx, key); rerr != nil {
				logger.Warn().Err(rerr).Msg("failed to release rate limit slot")
			}
			logger.Error().Err(err).Msg("failed to create alert")
			out.Errors++
			continue
		}
		out.Created = append(out.Created, alert)
	}
	return out
}
