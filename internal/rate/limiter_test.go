package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, cfg), mr
}

func TestAllowKeyWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.AllowKey(ctx, "key-1", 5))
	}

	err := limiter.AllowKey(ctx, "key-1", 5)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestAllowKeyZeroLimitDisablesThrottling(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.AllowKey(ctx, "key-1", 0))
	}

	usage, err := limiter.KeyUsage(ctx, "key-1")
	require.NoError(t, err)
	require.Zero(t, usage)
}

func TestAllowKeyWindowExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, limiter.AllowKey(ctx, "key-1", 1))
	require.ErrorIs(t, limiter.AllowKey(ctx, "key-1", 1), ErrRateLimited)

	mr.FastForward(time.Minute + time.Second)

	require.NoError(t, limiter.AllowKey(ctx, "key-1", 1))
}

func TestAllowKeyIsolatesKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	require.NoError(t, limiter.AllowKey(ctx, "key-1", 1))
	require.ErrorIs(t, limiter.AllowKey(ctx, "key-1", 1), ErrRateLimited)

	require.NoError(t, limiter.AllowKey(ctx, "key-2", 1))
}

func TestKeyUsage(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	usage, err := limiter.KeyUsage(ctx, "key-1")
	require.NoError(t, err)
	require.Zero(t, usage)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.AllowKey(ctx, "key-1", 10))
	}

	usage, err = limiter.KeyUsage(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, 3, usage)
}

func TestReset(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	require.NoError(t, limiter.AllowKey(ctx, "key-1", 1))
	require.ErrorIs(t, limiter.AllowKey(ctx, "key-1", 1), ErrRateLimited)

	require.NoError(t, limiter.Reset(ctx, "key-1"))

	require.NoError(t, limiter.AllowKey(ctx, "key-1", 1))
}

func TestAllowKeyRedisDown(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{})
	ctx := context.Background()

	mr.Close()

	err := limiter.AllowKey(ctx, "key-1", 5)
	require.ErrorIs(t, err, ErrRedisUnavailable)
}
