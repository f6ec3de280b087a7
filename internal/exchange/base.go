package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/failover"
	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/retry"
	"golang.org/x/sync/errgroup"
)

// baseAdapter carries what every exchange adapter shares: the endpoint
// rotation, retry policy, connection status and the batch loop. Concrete
// adapters embed it and provide fetchOne and ping.
type baseAdapter struct {
	name      string
	opts      Options
	endpoints *failover.Group[*restClient]
	status    *statusTracker
	logger    zerolog.Logger

	fetchOne func(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error)
	ping     func(ctx context.Context, c *restClient) error
}

func newBaseAdapter(name string, defaults []string, opts Options, headers map[string]string) (*baseAdapter, error) {
	opts = opts.withDefaults()

	endpoints := defaults
	if len(opts.Endpoints) > 0 {
		endpoints = opts.Endpoints
	}

	group, err := failover.New(name, endpoints, func(endpoint string) *restClient {
		return newRESTClient(name, endpoint, opts.Timeout, headers)
	})
	if err != nil {
		return nil, err
	}

	b := &baseAdapter{
		name:      name,
		opts:      opts,
		endpoints: group,
		status:    newStatusTracker(name, endpoints[0]),
		logger:    log.With().Str("exchange", name).Logger(),
	}
	group.OnSwitch(func(endpoint string) {
		b.status.setEndpoint(endpoint)
		b.logger.Info().Str("endpoint", endpoint).Msg("switched endpoint")
	})
	return b, nil
}

func (b *baseAdapter) Name() string {
	return b.name
}

func (b *baseAdapter) Status() models.ConnectionStatus {
	return b.status.snapshot()
}

func (b *baseAdapter) FetchOrderBook(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	return b.fetchOne(ctx, symbol)
}

// call runs fn through endpoint failover inside the retry policy and keeps
// the connection status current. Errors that cannot improve on retry
// (missing pair, every endpoint blocked, other 4xx) stop the retry loop.
func (b *baseAdapter) call(ctx context.Context, op string, fn func(ctx context.Context, c *restClient) error) error {
	err := b.opts.Retry.Do(ctx, b.name+" "+op, func(ctx context.Context) error {
		err := b.endpoints.Do(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoMarketPair) ||
			errors.Is(err, failover.ErrAllEndpointsBlocked) ||
			isClientError(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNoMarketPair) {
			b.status.recordFailure(err)
		}
		return err
	}

	b.status.recordSuccess()
	return nil
}

// TestConnection pings the current endpoint, rotating on blocks.
func (b *baseAdapter) TestConnection(ctx context.Context) bool {
	err := b.call(ctx, "ping", b.ping)
	if err != nil {
		b.status.setDisconnected(nil)
		b.logger.Warn().Err(err).Msg("connection test failed")
		return false
	}
	return true
}

// FetchBatch fetches symbols in groups of BatchSize. Symbols inside a group
// run in parallel; groups are separated by BatchDelay. A failing symbol is
// recorded in Failed and never stops the rest of the batch.
func (b *baseAdapter) FetchBatch(ctx context.Context, symbols []string) *BatchResult {
	res := &BatchResult{
		Exchange: b.name,
		Books:    make(map[string]*models.OrderBookSnapshot, len(symbols)),
		Failed:   make(map[string]error),
	}

	var mu sync.Mutex
	size := b.opts.BatchSize

	for start := 0; start < len(symbols); start += size {
		if start > 0 && b.opts.BatchDelay > 0 {
			timer := time.NewTimer(b.opts.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			for _, sym := range symbols[start:] {
				res.Failed[sym] = err
			}
			break
		}

		end := min(start+size, len(symbols))

		var g errgroup.Group
		for _, sym := range symbols[start:end] {
			g.Go(func() error {
				snap, err := b.fetchOne(ctx, sym)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed[sym] = err
					return nil
				}
				res.Books[sym] = snap
				return nil
			})
		}
		_ = g.Wait()
	}

	for sym, err := range res.Failed {
		ev := b.logger.Warn()
		if errors.Is(err, ErrNoMarketPair) {
			ev = b.logger.Debug()
		}
		ev.Err(err).Str("symbol", sym).Msg("symbol skipped this cycle")
	}

	b.logger.Debug().
		Int("ok", len(res.Books)).
		Int("failed", len(res.Failed)).
		Msg("batch finished")

	return res
}
