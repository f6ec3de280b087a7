package alert

import (
	"context"
	"time"

	"github.com/suwandre/arbwatch/internal/cache"
)

// Limiter reserves a key for a window. Acquire must check and reserve
// atomically: of two concurrent callers at most one gets true.
type Limiter interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLimiter keeps reservations in process.
type MemoryLimiter struct {
	keys *cache.TTL[string, struct{}]
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{keys: cache.NewTTL[string, struct{}]()}
}

// WithClock replaces the time source. Intended for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.keys.WithClock(now)
	return l
}

func (l *MemoryLimiter) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return l.keys.SetIfAbsent(key, struct{}{}, window), nil
}

func (l *MemoryLimiter) Release(ctx context.Context, key string) error {
	l.keys.Delete(key)
	return nil
}

// Sweep drops expired reservations.
func (l *MemoryLimiter) Sweep() int {
	return l.keys.Sweep()
}
