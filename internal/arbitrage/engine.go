// Package arbitrage turns one cycle of collected order books into intra- and
// cross-exchange opportunities, records them and raises alerts for the
// profitable ones.
package arbitrage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/alert"
	"github.com/suwandre/arbwatch/internal/models"
)

// Store is the persistence the engine writes to.
type Store interface {
	SaveOrderBook(ctx context.Context, snap *models.OrderBookSnapshot) error
	SaveIntraOpportunity(ctx context.Context, opp *models.IntraExchangeOpportunity) error
	SaveCrossOpportunity(ctx context.Context, opp *models.CrossExchangeOpportunity) error
	ActiveUsers(ctx context.Context) ([]int64, error)
}

type Issuer interface {
	Issue(ctx context.Context, users []int64, c alert.Candidate) alert.Outcome
}

type Queue interface {
	Enqueue(a *models.Alert) bool
}

// Cycle is everything collected in one tick. Exchanges and Symbols carry the
// configured order, which the report follows.
type Cycle struct {
	ID        string
	Exchanges []string
	Symbols   []string
	Books     map[string]map[string]*models.OrderBookSnapshot // exchange -> symbol
	StartedAt time.Time
}

func (c Cycle) book(exchange, symbol string) *models.OrderBookSnapshot {
	if m := c.Books[exchange]; m != nil {
		return m[symbol]
	}
	return nil
}

type Report struct {
	CycleID       string                            `json:"cycle_id"`
	Intra         []models.IntraExchangeOpportunity `json:"intra"`
	Cross         []models.CrossExchangeOpportunity `json:"cross"`
	Profitable    int                               `json:"profitable"`
	AlertsCreated int                               `json:"alerts_created"`
	AlertsSkipped int                               `json:"alerts_skipped"`
	PersistErrors int                               `json:"persist_errors"`
}

// Stats accumulates across cycles.
type Stats struct {
	Cycles        int64     `json:"cycles"`
	Intra         int64     `json:"intra_opportunities"`
	Cross         int64     `json:"cross_opportunities"`
	Profitable    int64     `json:"profitable"`
	AlertsCreated int64     `json:"alerts_created"`
	AlertsSkipped int64     `json:"alerts_skipped"`
	PersistErrors int64     `json:"persist_errors"`
	LastCycleAt   time.Time `json:"last_cycle_at"`
}

type Engine struct {
	store     Store
	gate      Issuer
	queue     Queue
	threshold float64
	newID     func() string

	cycles        atomic.Int64
	intra         atomic.Int64
	cross         atomic.Int64
	profitable    atomic.Int64
	alertsCreated atomic.Int64
	alertsSkipped atomic.Int64
	persistErrors atomic.Int64
	lastCycleAt   atomic.Int64
}

// NewEngine builds an engine. threshold is the minimum spread, in percent,
// for an opportunity to count as profitable. gate and queue may be nil, in
// which case no alerts are raised.
func NewEngine(st Store, gate Issuer, queue Queue, threshold float64) *Engine {
	return &Engine{
		store:     st,
		gate:      gate,
		queue:     queue,
		threshold: threshold,
		newID:     uuid.NewString,
	}
}

// Analyze runs Evaluate then Persist.
func (e *Engine) Analyze(ctx context.Context, c Cycle) (*Report, error) {
	r := e.Evaluate(c)
	return r, e.Persist(ctx, c, r)
}

// Evaluate computes every opportunity in c. It has no side effects beyond
// assigning IDs.
func (e *Engine) Evaluate(c Cycle) *Report {
	r := &Report{CycleID: c.ID}

	for _, ex := range c.Exchanges {
		for _, sym := range c.Symbols {
			snap := c.book(ex, sym)
			if snap == nil {
				continue
			}
			opp := e.intraOpportunity(snap)
			if opp.IsProfitable {
				r.Profitable++
			}
			r.Intra = append(r.Intra, opp)
		}
	}

	for i := 0; i < len(c.Exchanges); i++ {
		for j := i + 1; j < len(c.Exchanges); j++ {
			x, y := c.Exchanges[i], c.Exchanges[j]
			for _, sym := range c.Symbols {
				bx, by := c.book(x, sym), c.book(y, sym)
				if !crossable(bx) || !crossable(by) {
					continue
				}
				opp := e.crossOpportunity(sym, bx, by, c.StartedAt)
				if opp.IsProfitable {
					r.Profitable++
				}
				r.Cross = append(r.Cross, opp)
			}
		}
	}
	return r
}

func (e *Engine) intraOpportunity(snap *models.OrderBookSnapshot) models.IntraExchangeOpportunity {
	bid, _ := snap.BestBid()
	ask, _ := snap.BestAsk()
	return models.IntraExchangeOpportunity{
		ID:           e.newID(),
		Symbol:       snap.Symbol,
		Exchange:     snap.Exchange,
		SpreadPct:    snap.SpreadPct,
		Threshold:    e.threshold,
		IsProfitable: !snap.Degraded && snap.SpreadPct >= e.threshold,
		Volume:       snap.Volume24h,
		BestBid:      bid,
		BestAsk:      ask,
		TakenAt:      snap.TakenAt,
	}
}

// crossable reports whether a book can take part in the cross pass. A
// one-sided book still quotes a usable price; an empty or crossed one does not.
func crossable(b *models.OrderBookSnapshot) bool {
	if b == nil {
		return false
	}
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid && !hasAsk {
		return false
	}
	return !(hasBid && hasAsk && bid >= ask)
}

// crossOpportunity compares buying on x and selling on y with the reverse
// and keeps the better one. Ties go to x->y.
func (e *Engine) crossOpportunity(symbol string, x, y *models.OrderBookSnapshot, at time.Time) models.CrossExchangeOpportunity {
	opp := models.CrossExchangeOpportunity{
		ID:           e.newID(),
		Symbol:       symbol,
		ExchangeFrom: x.Exchange,
		ExchangeTo:   y.Exchange,
		Threshold:    e.threshold,
		TakenAt:      at,
	}

	xBid, xHasBid := x.BestBid()
	xAsk, xHasAsk := x.BestAsk()
	yBid, yHasBid := y.BestBid()
	yAsk, yHasAsk := y.BestAsk()

	var xy, yx float64
	if xHasAsk && yHasBid {
		xy = models.PctChange(xAsk, yBid)
	}
	if yHasAsk && xHasBid {
		yx = models.PctChange(yAsk, xBid)
	}

	switch {
	case xy > 0 && xy >= yx:
		opp.SpreadPct = xy
		opp.Direction = &models.Direction{Buy: x.Exchange, Sell: y.Exchange}
	case yx > 0:
		opp.SpreadPct = yx
		opp.Direction = &models.Direction{Buy: y.Exchange, Sell: x.Exchange}
	}
	opp.IsProfitable = opp.Direction != nil && opp.SpreadPct >= e.threshold
	return opp
}

// Persist writes the cycle's books and opportunities, then raises alerts for
// the profitable ones. A failed write is logged and dropped. The only error
// returned is the context's.
func (e *Engine) Persist(ctx context.Context, c Cycle, r *Report) error {
	logger := log.With().Str("cycle", c.ID).Logger()

	for _, ex := range c.Exchanges {
		for _, sym := range c.Symbols {
			snap := c.book(ex, sym)
			if snap == nil {
				continue
			}
			if err := e.store.SaveOrderBook(ctx, snap); err != nil {
				logger.Error().Err(err).Str("exchange", ex).Str("symbol", sym).Msg("failed to save order book")
				r.PersistErrors++
			}
		}
	}

	for i := range r.Intra {
		opp := &r.Intra[i]
		if err := e.store.SaveIntraOpportunity(ctx, opp); err != nil {
			logger.Error().Err(err).Str("exchange", opp.Exchange).Str("symbol", opp.Symbol).Msg("failed to save intra opportunity")
			r.PersistErrors++
		}
	}

	for i := range r.Cross {
		opp := &r.Cross[i]
		if err := e.store.SaveCrossOpportunity(ctx, opp); err != nil {
			logger.Error().Err(err).
				Str("from", opp.ExchangeFrom).
				Str("to", opp.ExchangeTo).
				Str("symbol", opp.Symbol).
				Msg("failed to save cross opportunity")
			r.PersistErrors++
		}
	}

	if err := ctx.Err(); err != nil {
		e.record(r)
		return err
	}

	e.raiseAlerts(ctx, logger, r)
	e.record(r)

	logger.Info().
		Int("intra", len(r.Intra)).
		Int("cross", len(r.Cross)).
		Int("profitable", r.Profitable).
		Int("alerts", r.AlertsCreated).
		Int("persist_errors", r.PersistErrors).
		Msg("cycle analyzed")
	return ctx.Err()
}

func (e *Engine) raiseAlerts(ctx context.Context, logger zerolog.Logger, r *Report) {
	if r.Profitable == 0 || e.gate == nil {
		return
	}

	users, err := e.store.ActiveUsers(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load active users, skipping alerts")
		return
	}
	if len(users) == 0 {
		return
	}

	for _, opp := range r.Intra {
		if !opp.IsProfitable {
			continue
		}
		e.issue(ctx, r, users, alert.Candidate{
			Exchange:  opp.Exchange,
			Symbol:    opp.Symbol,
			SpreadPct: opp.SpreadPct,
			Metadata: map[string]any{
				"kind":           "intra",
				"opportunity_id": opp.ID,
				"best_bid":       opp.BestBid,
				"best_ask":       opp.BestAsk,
				"threshold":      opp.Threshold,
			},
		})
	}

	for _, opp := range r.Cross {
		if !opp.IsProfitable {
			continue
		}
		e.issue(ctx, r, users, alert.Candidate{
			Exchange:  opp.Direction.Buy,
			Symbol:    opp.Symbol,
			SpreadPct: opp.SpreadPct,
			Metadata: map[string]any{
				"kind":           "cross",
				"opportunity_id": opp.ID,
				"buy_exchange":   opp.Direction.Buy,
				"sell_exchange":  opp.Direction.Sell,
				"threshold":      opp.Threshold,
			},
		})
	}
}

func (e *Engine) issue(ctx context.Context, r *Report, users []int64, c alert.Candidate) {
	out := e.gate.Issue(ctx, users, c)
	r.AlertsSkipped += out.RateLimited + out.CapReached
	for _, a := range out.Created {
		r.AlertsCreated++
		if e.queue != nil {
			e.queue.Enqueue(a)
		}
	}
}

func (e *Engine) record(r *Report) {
	e.cycles.Add(1)
	e.intra.Add(int64(len(r.Intra)))
	e.cross.Add(int64(len(r.Cross)))
	e.profitable.Add(int64(r.Profitable))
	e.alertsCreated.Add(int64(r.AlertsCreated))
	e.alertsSkipped.Add(int64(r.AlertsSkipped))
	e.persistErrors.Add(int64(r.PersistErrors))
	e.lastCycleAt.Store(time.Now().UnixNano())
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Cycles:        e.cycles.Load(),
		Intra:         e.intra.Load(),
		Cross:         e.cross.Load(),
		Profitable:    e.profitable.Load(),
		AlertsCreated: e.alertsCreated.Load(),
		AlertsSkipped: e.alertsSkipped.Load(),
		PersistErrors: e.persistErrors.Load(),
	}
	if ns := e.lastCycleAt.Load(); ns > 0 {
		s.LastCycleAt = time.Unix(0, ns)
	}
	return s
}
