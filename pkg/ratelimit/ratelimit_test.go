package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/clock"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis, *clock.Fake) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFake(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	return New(rdb, clk, limit, window, slog.Default()), mr, clk
}

func TestLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, "user-a")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i+1)
		assert.Equal(t, 3-(i+1), decision.Remaining)
		clk.Advance(time.Second)
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, "user-a")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		clk.Advance(time.Second)
	}

	decision, err := limiter.Check(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	// Oldest entry is 2s old, so the window reopens in window-2s.
	assert.Equal(t, 58*time.Second, decision.RetryAfter)
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, "user-a")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		clk.Advance(time.Second)
	}
	decision, err := limiter.Check(ctx, "user-a")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Once the early entries fall out of the window, requests flow again.
	clk.Advance(59 * time.Second)
	decision, err = limiter.Check(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _, clk := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	decision, err := limiter.Check(ctx, "user-a")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	clk.Advance(time.Second)
	decision, err = limiter.Check(ctx, "user-b")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a saturated neighbor must not affect user-b")
}

func TestLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	decision, err := limiter.Check(context.Background(), "user-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}
