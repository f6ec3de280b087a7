package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/arbitrage"
	"github.com/suwandre/arbwatch/internal/exchange"
	"github.com/suwandre/arbwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoExchanges = errors.New("no exchange reachable")
	ErrNoData      = errors.New("no exchange returned data")
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultShutdownGrace = 10 * time.Second
)

type State int32

const (
	Idle State = iota
	Collecting
	Analyzing
	Persisting
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Analyzing:
		return "analyzing"
	case Persisting:
		return "persisting"
	default:
		return "idle"
	}
}

// Analyzer is the engine step of a cycle.
type Analyzer interface {
	Evaluate(c arbitrage.Cycle) *arbitrage.Report
	Persist(ctx context.Context, c arbitrage.Cycle, r *arbitrage.Report) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Symbols       []string
	Interval      time.Duration
	CycleTimeout  time.Duration // zero means Interval
	ShutdownGrace time.Duration
}

// Opportunities is the latest analyzed view of one symbol.
type Opportunities struct {
	Symbol    string                            `json:"symbol"`
	CycleID   string                            `json:"cycle_id"`
	Intra     []models.IntraExchangeOpportunity `json:"intra"`
	Cross     []models.CrossExchangeOpportunity `json:"cross"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

type Stats struct {
	State        string        `json:"state"`
	InFlight     bool          `json:"in_flight"`
	Total        int64         `json:"total_cycles"`
	Successful   int64         `json:"successful_cycles"`
	Failed       int64         `json:"failed_cycles"`
	Skipped      int64         `json:"skipped_ticks"`
	LastError    string        `json:"last_error,omitempty"`
	LastErrorAt  time.Time     `json:"last_error_at,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastCycleAt  time.Time     `json:"last_cycle_at"`
	Uptime       time.Duration `json:"uptime_ns"`
	Enabled      []string      `json:"enabled_exchanges"`
}

// Scheduler drives one collection cycle per interval. At most one cycle is
// in flight; a tick that finds one running is dropped and counted.
type Scheduler struct {
	exchanges []exchange.Exchange
	engine    Analyzer
	store     Pinger
	cfg       Config

	inFlight atomic.Bool
	state    atomic.Int32

	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64

	mu           sync.RWMutex
	enabled      map[string]bool
	lastErr      error
	lastErrAt    time.Time
	lastOK       bool
	lastDuration time.Duration
	lastCycleAt  time.Time
	latest       map[string]*Opportunities

	startedAt time.Time
	stopOnce  sync.Once
	stopCh    chan struct{}
	loopDone  chan struct{}
	cycles    sync.WaitGroup
	cancel    context.CancelFunc
}

func New(exchanges []exchange.Exchange, engine Analyzer, st Pinger, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	enabled := make(map[string]bool, len(exchanges))
	for _, ex := range exchanges {
		enabled[ex.Name()] = true
	}

	return &Scheduler{
		exchanges: exchanges,
		engine:    engine,
		store:     st,
		cfg:       cfg,
		enabled:   enabled,
		lastOK:    true,
		latest:    make(map[string]*Opportunities),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Bootstrap checks persistence and every adapter before the first tick.
// Persistence failing or no adapter answering is fatal. Adapters that do not
// answer are excluded and probed again at the start of each cycle.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("scheduler: persistence unreachable: %w", err)
	}

	reachable := make([]bool, len(s.exchanges))
	var g errgroup.Group
	for i, ex := range s.exchanges {
		g.Go(func() error {
			reachable[i] = ex.TestConnection(ctx)
			return nil
		})
	}
	_ = g.Wait()

	up := 0
	s.mu.Lock()
	for i, ex := range s.exchanges {
		s.enabled[ex.Name()] = reachable[i]
		if reachable[i] {
			up++
			continue
		}
		log.Warn().Str("exchange", ex.Name()).Msg("exchange unreachable at startup, excluded until it recovers")
	}
	s.mu.Unlock()

	if up == 0 {
		return ErrNoExchanges
	}
	log.Info().Int("reachable", up).Int("configured", len(s.exchanges)).Msg("bootstrap complete")
	return nil
}

// Start runs a cycle immediately and then one per interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.spawn(runCtx)

	go func() {
		defer close(s.loopDone)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.spawn(runCtx)
			case <-s.stopCh:
				return
			case <-runCtx.Done():
				return
			}
		}
	}()

	log.Info().
		Stringer("interval", s.cfg.Interval).
		Strs("symbols", s.cfg.Symbols).
		Msg("scheduler started")
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		s.Tick(ctx)
	}()
}

// Stop ends ticking and waits for an in-flight cycle up to the shutdown
// grace period, after which the cycle's context is cancelled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.cancel == nil {
			return
		}
		<-s.loopDone

		done := make(chan struct{})
		go func() {
			s.cycles.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownGrace):
			log.Warn().Stringer("grace", s.cfg.ShutdownGrace).Msg("in-flight cycle exceeded shutdown grace, cancelling")
			s.cancel()
			<-done
		}
		s.cancel()
		log.Info().Msg("scheduler stopped")
	})
}

// Tick runs one cycle unless one is already in flight. It reports whether a
// cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		log.Warn().Int64("skipped", n).Msg("previous cycle still running, skipping tick")
		return false
	}
	defer s.inFlight.Store(false)

	cycleID := uuid.NewString()
	start := time.Now()
	err := s.runCycle(ctx, cycleID)
	elapsed := time.Since(start)
	s.setState(Idle)

	s.total.Add(1)
	s.mu.Lock()
	s.lastDuration = elapsed
	s.lastCycleAt = start
	s.lastOK = err == nil
	if err != nil {
		s.lastErr = err
		s.lastErrAt = start
	}
	s.mu.Unlock()

	if err != nil {
		s.failed.Add(1)
		log.Error().Err(err).Str("cycle", cycleID).Dur("duration", elapsed).Msg("cycle failed")
		return true
	}
	s.successful.Add(1)
	log.Info().Str("cycle", cycleID).Dur("duration", elapsed).Msg("cycle complete")
	return true
}

func (s *Scheduler) runCycle(parent context.Context, cycleID string) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.CycleTimeout)
	defer cancel()

	s.setState(Collecting)
	cycle := s.collect(ctx, cycleID)
	if len(cycle.Exchanges) == 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		return ErrNoData
	}

	s.setState(Analyzing)
	report := s.engine.Evaluate(cycle)
	s.remember(cycle, report)

	s.setState(Persisting)
	if err := s.engine.Persist(ctx, cycle, report); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// collect fans out to every adapter in parallel. Disabled adapters are probed
// first and join the cycle if they answer.
func (s *Scheduler) collect(ctx context.Context, cycleID string) arbitrage.Cycle {
	results := make([]*exchange.BatchResult, len(s.exchanges))

	var g errgroup.Group
	for i, ex := range s.exchanges {
		g.Go(func() error {
			if !s.isEnabled(ex.Name()) {
				if !ex.TestConnection(ctx) {
					return nil
				}
				log.Info().Str("exchange", ex.Name()).Msg("exchange recovered, re-enabled")
				s.setEnabled(ex.Name(), true)
			}
			results[i] = ex.FetchBatch(ctx, s.cfg.Symbols)
			return nil
		})
	}
	_ = g.Wait()

	cycle := arbitrage.Cycle{
		ID:        cycleID,
		Symbols:   s.cfg.Symbols,
		Books:     make(map[string]map[string]*models.OrderBookSnapshot),
		StartedAt: time.Now(),
	}
	for i, ex := range s.exchanges {
		res := results[i]
		if res == nil {
			continue
		}
		if len(res.Books) == 0 {
			if !ex.Status().IsConnected {
				log.Warn().Str("exchange", ex.Name()).Msg("exchange returned nothing and is disconnected, excluded until it recovers")
				s.setEnabled(ex.Name(), false)
			}
			continue
		}
		cycle.Exchanges = append(cycle.Exchanges, ex.Name())
		cycle.Books[ex.Name()] = res.Books

		if len(res.Failed) > 0 {
			log.Warn().
				Str("cycle", cycleID).
				Str("exchange", ex.Name()).
				Int("ok", len(res.Books)).
				Int("failed", len(res.Failed)).
				Msg("partial batch")
		}
	}
	return cycle
}

func (s *Scheduler) remember(c arbitrage.Cycle, r *arbitrage.Report) {
	now := time.Now()
	latest := make(map[string]*Opportunities, len(c.Symbols))
	get := func(sym string) *Opportunities {
		o, ok := latest[sym]
		if !ok {
			o = &Opportunities{Symbol: sym, CycleID: c.ID, UpdatedAt: now}
			latest[sym] = o
		}
		return o
	}
	for _, opp := range r.Intra {
		o := get(opp.Symbol)
		o.Intra = append(o.Intra, opp)
	}
	for _, opp := range r.Cross {
		o := get(opp.Symbol)
		o.Cross = append(o.Cross, opp)
	}

	s.mu.Lock()
	s.latest = latest
	s.mu.Unlock()
}

// GetOpportunities returns the latest cycle's opportunities for symbol.
func (s *Scheduler) GetOpportunities(symbol string) (*Opportunities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.latest[symbol]
	return o, ok
}

func (s *Scheduler) isEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[name]
}

func (s *Scheduler) setEnabled(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[name] = on
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Healthy reports whether the last cycle succeeded (or none ran yet) and at
// least one adapter is enabled.
func (s *Scheduler) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lastOK {
		return false
	}
	for _, on := range s.enabled {
		if on {
			return true
		}
	}
	return false
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		State:      s.State().String(),
		InFlight:   s.inFlight.Load(),
		Total:      s.total.Load(),
		Successful: s.successful.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
		Uptime:     time.Since(s.startedAt),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.LastErrorAt = s.lastErrAt
	}
	st.LastDuration = s.lastDuration
	st.LastCycleAt = s.lastCycleAt
	for _, ex := range s.exchanges {
		if s.enabled[ex.Name()] {
			st.Enabled = append(st.Enabled, ex.Name())
		}
	}
	return st
}

// Connections returns every adapter's connection status in configured order.
func (s *Scheduler) Connections() []models.ConnectionStatus {
	out := make([]models.ConnectionStatus, 0, len(s.exchanges))
	for _, ex := range s.exchanges {
		out = append(out, ex.Status())
	}
	return out
}

func (s *Scheduler) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
