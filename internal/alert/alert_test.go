package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/suwandre/arbwatch/internal/models"
	"github.com/suwandre/arbwatch/internal/store"
	"github.com/suwandre/arbwatch/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGate() (*Gate, *memory.Store, *testClock) {
	clk := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := memory.New(1).WithClock(clk.now)
	g := NewGate(st, NewMemoryLimiter().WithClock(clk.now), DefaultRateWindow, DefaultHourlyCap)
	return g, st, clk
}

func TestGateRateLimitsPerUserSymbolExchange(t *testing.T) {
	g, st, clk := newTestGate()
	c := Candidate{Exchange: "binance", Symbol: "BTC", SpreadPct: 1.2}

	if out := g.Issue(context.Background(), []int64{1}, c); len(out.Created) != 1 {
		t.Fatalf("first alert should be created, got %+v", out)
	}

	clk.advance(30 * time.Second)
	out := g.Issue(context.Background(), []int64{1}, c)
	if len(out.Created) != 0 || out.RateLimited != 1 {
		t.Fatalf("second alert within 60s should be rate limited, got %+v", out)
	}

	// A different exchange is a different key.
	other := c
	other.Exchange = "bybit"
	if out := g.Issue(context.Background(), []int64{1}, other); len(out.Created) != 1 {
		t.Fatalf("other exchange should not be rate limited, got %+v", out)
	}

	clk.advance(31 * time.Second)
	if out := g.Issue(context.Background(), []int64{1}, c); len(out.Created) != 1 {
		t.Fatalf("alert after the window should be created, got %+v", out)
	}

	if n := len(st.Alerts()); n != 3 {
		t.Fatalf("expected 3 stored alerts, got %d", n)
	}
}

func TestGateHourlyCap(t *testing.T) {
	g, st, clk := newTestGate()

	for i := 0; i < DefaultHourlyCap; i++ {
		out := g.Issue(context.Background(), []int64{1}, Candidate{Exchange: "binance", Symbol: fmt.Sprintf("S%d", i)})
		if len(out.Created) != 1 {
			t.Fatalf("alert %d should be created, got %+v", i+1, out)
		}
		clk.advance(time.Minute)
	}

	out := g.Issue(context.Background(), []int64{1}, Candidate{Exchange: "binance", Symbol: "S11"})
	if len(out.Created) != 0 || out.CapReached != 1 {
		t.Fatalf("11th alert in the hour should be suppressed, got %+v", out)
	}

	// Once the oldest alert leaves the rolling hour a slot frees up.
	clk.advance(51 * time.Minute)
	out = g.Issue(context.Background(), []int64{1}, Candidate{Exchange: "binance", Symbol: "S11"})
	if len(out.Created) != 1 {
		t.Fatalf("alert after the rolling hour should be created, got %+v", out)
	}
	if n := len(st.Alerts()); n != DefaultHourlyCap+1 {
		t.Fatalf("expected %d alerts, got %d", DefaultHourlyCap+1, n)
	}
}

func TestGateConcurrentIssueCreatesOne(t *testing.T) {
	g, st, _ := newTestGate()
	c := Candidate{Exchange: "kraken", Symbol: "ETH", SpreadPct: 3}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Issue(context.Background(), []int64{1}, c)
		}()
	}
	wg.Wait()

	if n := len(st.Alerts()); n != 1 {
		t.Fatalf("expected exactly one alert, got %d", n)
	}
}

type brokenCreate struct {
	*memory.Store
}

func (brokenCreate) CreateAlert(ctx context.Context, in store.NewAlert) (*models.Alert, error) {
	return nil, errors.New("db down")
}

func newAlert(user int64) store.NewAlert {
	return store.NewAlert{UserID: user, Exchange: "binance", Symbol: "BTC", SpreadPct: 1}
}

func TestGateReleasesSlotWhenCreateFails(t *testing.T) {
	lim := NewMemoryLimiter()
	g := NewGate(brokenCreate{memory.New(1)}, lim, time.Minute, 10)

	out := g.Issue(context.Background(), []int64{1}, Candidate{Exchange: "binance", Symbol: "BTC"})
	if out.Errors != 1 || len(out.Created) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	ok, _ := lim.Acquire(context.Background(), rateKey(1, "BTC", "binance"), time.Minute)
	if !ok {
		t.Fatal("slot should have been released after the failed insert")
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recordingDeliverer) Deliver(ctx context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, a.ID)
	return r.err
}

func TestDispatcherDeliversAndMarksStatus(t *testing.T) {
	st := memory.New(1)
	sent, _ := st.CreateAlert(context.Background(), newAlert(1))
	failed, _ := st.CreateAlert(context.Background(), newAlert(1))

	ok := &recordingDeliverer{}
	d := NewDispatcher(ok, st, 4, 1)
	d.Start(context.Background())
	if !d.Enqueue(sent) {
		t.Fatal("enqueue should succeed")
	}
	d.Stop()

	bad := &recordingDeliverer{err: errors.New("smtp down")}
	d = NewDispatcher(bad, st, 4, 1)
	d.Start(context.Background())
	d.Enqueue(failed)
	d.Stop()

	statuses := map[string]models.AlertStatus{}
	for _, a := range st.Alerts() {
		statuses[a.ID] = a.Status
	}
	if statuses[sent.ID] != models.AlertSent {
		t.Fatalf("delivered alert status = %s", statuses[sent.ID])
	}
	if statuses[failed.ID] != models.AlertFailed {
		t.Fatalf("failed alert status = %s", statuses[failed.ID])
	}
}

func TestDispatcherEnqueueAfterStop(t *testing.T) {
	d := NewDispatcher(&recordingDeliverer{}, nil, 1, 1)
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	if d.Enqueue(&models.Alert{ID: "late"}) {
		t.Fatal("enqueue after stop should be rejected")
	}
}
