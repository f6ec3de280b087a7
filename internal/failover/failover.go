// Package failover rotates an exchange client across alternate base URLs
// when the current host blocks or refuses us.
package failover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

var ErrAllEndpointsBlocked = errors.New("all endpoints blocked")

type statusCoder interface {
	StatusCode() int
}

// IsBlocked reports whether err means the host rejected the client itself,
// as opposed to a transient failure of one request.
func IsBlocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAllEndpointsBlocked) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusForbidden, http.StatusUnavailableForLegalReasons:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "connection refused")
}

// Group owns the ordered endpoint list of one adapter, the cursor into it and
// the client built for the current endpoint. Safe for concurrent use.
type Group[C any] struct {
	name      string
	endpoints []string
	factory   func(endpoint string) C
	onSwitch  func(endpoint string)

	mu     sync.Mutex
	cursor int
	client C
}

func New[C any](name string, endpoints []string, factory func(endpoint string) C) (*Group[C], error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("failover %s: no endpoints configured", name)
	}
	eps := make([]string, len(endpoints))
	copy(eps, endpoints)

	return &Group[C]{
		name:      name,
		endpoints: eps,
		factory:   factory,
		client:    factory(eps[0]),
	}, nil
}

// OnSwitch registers a callback invoked with the new endpoint whenever the
// cursor moves. Must be called before the group is shared.
func (g *Group[C]) OnSwitch(fn func(endpoint string)) {
	g.onSwitch = fn
}

func (g *Group[C]) Current() (string, C) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoints[g.cursor], g.client
}

func (g *Group[C]) current() (int, C) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor, g.client
}

// advance moves past the endpoint at idx. When a concurrent caller already
// moved past it, the current client is returned unchanged.
func (g *Group[C]) advance(idx int) (int, C, bool) {
	g.mu.Lock()
	if g.cursor != idx {
		cur, c := g.cursor, g.client
		g.mu.Unlock()
		return cur, c, true
	}
	if g.cursor+1 >= len(g.endpoints) {
		var zero C
		g.mu.Unlock()
		return 0, zero, false
	}
	g.cursor++
	g.client = g.factory(g.endpoints[g.cursor])
	cur, c, ep := g.cursor, g.client, g.endpoints[g.cursor]
	g.mu.Unlock()

	if g.onSwitch != nil {
		g.onSwitch(ep)
	}
	return cur, c, true
}

// reset points the group back at the primary endpoint so a later call chain
// can find out whether the block has been lifted.
func (g *Group[C]) reset() {
	g.mu.Lock()
	if g.cursor == 0 {
		g.mu.Unlock()
		return
	}
	g.cursor = 0
	g.client = g.factory(g.endpoints[0])
	ep := g.endpoints[0]
	g.mu.Unlock()

	if g.onSwitch != nil {
		g.onSwitch(ep)
	}
}

// Do runs fn against the current client. A blocked-class error moves the
// cursor to the next endpoint and repeats the same call there; each endpoint
// is tried at most once per Do. Other errors are returned as is.
func (g *Group[C]) Do(ctx context.Context, fn func(ctx context.Context, client C) error) error {
	idx, client := g.current()

	var lastErr error
	for tried := 0; tried < len(g.endpoints); tried++ {
		err := fn(ctx, client)
		if err == nil || !IsBlocked(err) {
			return err
		}
		lastErr = err

		log.Warn().
			Err(err).
			Str("exchange", g.name).
			Str("endpoint", g.endpoints[idx]).
			Msg("endpoint blocked, rotating")

		next, c, ok := g.advance(idx)
		if !ok {
			break
		}
		idx, client = next, c
	}

	g.reset()
	return fmt.Errorf("%s: %w: %v", g.name, ErrAllEndpointsBlocked, lastErr)
}
