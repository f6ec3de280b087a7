package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const alertKeyPrefix = "alert:ratelimit:"

// AlertLimiter reserves alert keys with SET NX PX, so the check and the
// reservation happen in one round trip.
type AlertLimiter struct {
	rdb *redis.Client
}

func NewAlertLimiter(c *Client) *AlertLimiter {
	return &AlertLimiter{rdb: c.rdb}
}

func alertKey(key string) string {
	return alertKeyPrefix + key
}

func (l *AlertLimiter) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, alertKey(key), time.Now().UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire %s: %w", key, err)
	}
	return ok, nil
}

func (l *AlertLimiter) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, alertKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", key, err)
	}
	return nil
}
