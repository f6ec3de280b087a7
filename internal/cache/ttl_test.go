package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestTTLExpiry(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTL[string, int]().WithClock(clk.now)

	c.Set("a", 1, time.Minute)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %d %v", v, ok)
	}

	clk.t = clk.t.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should expire at its deadline")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on access, len=%d", c.Len())
	}
}

func TestTTLSetIfAbsent(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTL[string, struct{}]().WithClock(clk.now)

	if !c.SetIfAbsent("k", struct{}{}, 60*time.Second) {
		t.Fatal("first SetIfAbsent should succeed")
	}
	clk.t = clk.t.Add(59 * time.Second)
	if c.SetIfAbsent("k", struct{}{}, 60*time.Second) {
		t.Fatal("SetIfAbsent inside the window should fail")
	}
	clk.t = clk.t.Add(time.Second)
	if !c.SetIfAbsent("k", struct{}{}, 60*time.Second) {
		t.Fatal("SetIfAbsent after the window should succeed")
	}
}

func TestTTLSweep(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTL[int, int]().WithClock(clk.now)

	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Hour)
	clk.t = clk.t.Add(2 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("long-lived entry should survive the sweep")
	}
}
