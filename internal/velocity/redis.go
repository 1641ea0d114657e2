package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long observations are kept when no retention is
// configured. It must cover the longest window ever queried.
const DefaultRetention = time.Hour

const keyPrefix = "velocity:"

// RedisCounter keeps a sorted set per user, member = transaction ID and
// score = Unix milliseconds of the observation.
type RedisCounter struct {
	client    redis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisCounter.
type RedisOption func(*RedisCounter)

// WithRetention sets how long observations are kept.
func WithRetention(d time.Duration) RedisOption {
	return func(c *RedisCounter) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) RedisOption {
	return func(c *RedisCounter) { c.now = now }
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client redis.UniversalClient, opts ...RedisOption) *RedisCounter {
	c := &RedisCounter{
		client:    client,
		retention: DefaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(userID string) string { return keyPrefix + userID }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// CountRecent counts observations strictly newer than now-window.
func (c *RedisCounter) CountRecent(ctx context.Context, userID string, window time.Duration) (int, error) {
	from := "(" + millis(c.now().Add(-window))
	n, err := c.client.ZCount(ctx, key(userID), from, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}
	return int(n), nil
}

// Observe records a transaction and trims observations past the retention
// horizon. Re-observing the same transaction ID only moves its timestamp.
func (c *RedisCounter) Observe(ctx context.Context, userID, txID string, at time.Time) error {
	k := key(userID)
	horizon := c.now().Add(-c.retention)

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: txID})
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+millis(horizon))
	pipe.Expire(ctx, k, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis observe: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
