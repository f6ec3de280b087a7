package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestAlertKey(t *testing.T) {
	if got := alertKey("7:BTC:binance"); got != "alert:ratelimit:7:BTC:binance" {
		t.Fatalf("alertKey = %q", got)
	}
}

func TestAlertLimiterAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	l := NewAlertLimiter(c)
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer l.Release(ctx, key)

	if ok, err := l.Acquire(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, key, time.Minute); ok {
		t.Fatal("second acquire inside the window should fail")
	}
	if err := l.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, key, time.Minute); !ok {
		t.Fatal("acquire after release should succeed")
	}
}
