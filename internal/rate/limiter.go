package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	// Window is the throttle window; the per-key request budget comes from
	// the key row itself (rate_limit_per_minute).
	Window time.Duration

	// KeyPrefix namespaces the Redis counter keys.
	KeyPrefix string
}

// Limiter enforces the per-API-key ingestion budget using Redis counters.
//
// Fixed-window semantics: the counter expires Window after its first hit, so
// a burst straddling a window edge can briefly see up to 2x the budget. The
// counter lives in Redis rather than process memory, which keeps the limit
// correct across multiple ingest instances.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "vrl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowKey records one request for the API key and reports whether it is
// within budget. limit <= 0 disables throttling for the key.
func (l *Limiter) AllowKey(ctx context.Context, keyID string, limit int) error {
	if l == nil || limit <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.counterKey(keyID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(limit) {
		return ErrRateLimited
	}

	return nil
}

// KeyUsage returns the current window's counter for an API key. Missing
// counters return zero.
func (l *Limiter) KeyUsage(ctx context.Context, keyID string) (int, error) {
	count, err := l.redis.Get(ctx, l.counterKey(keyID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the counter for an API key. Called when an owner raises the
// key's budget so the old window does not keep rejecting.
func (l *Limiter) Reset(ctx context.Context, keyID string) error {
	if err := l.redis.Del(ctx, l.counterKey(keyID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) counterKey(keyID string) string {
	return l.config.KeyPrefix + ":" + keyID
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
