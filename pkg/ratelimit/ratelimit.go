// Package ratelimit implements a per-user sliding-window rate limiter
// backed by a Redis sorted set. Redis unavailability fails open: limiting
// protects capacity, it must never take the service down with it.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyloom/storyloom/pkg/clock"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per user key in a sliding window.
type Limiter struct {
	rdb    redis.UniversalClient
	clock  clock.Clock
	limit  int
	window time.Duration
	logger *slog.Logger
}

// New creates a Limiter allowing limit requests per window.
func New(rdb redis.UniversalClient, clk clock.Clock, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		clock:  clk,
		limit:  limit,
		window: window,
		logger: logger.With("component", "ratelimit"),
	}
}

// Check records one request for userKey and reports whether it is within
// the window limit. The check itself counts: a denied request still
// occupies a slot, so hammering a limited endpoint extends the lockout.
func (l *Limiter) Check(ctx context.Context, userKey string) (Decision, error) {
	now := l.clock.Now()
	key := "ratelimit:" + userKey
	windowStart := now.Add(-l.window)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	count := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open.
		l.logger.WarnContext(ctx, "Rate limit check failed, allowing request",
			slog.String("user_key", userKey),
			slog.String("error", err.Error()))
		return Decision{Allowed: true, Remaining: l.limit}, nil
	}

	n := int(count.Val())
	if n <= l.limit {
		return Decision{Allowed: true, Remaining: l.limit - n}, nil
	}

	retryAfter := l.window
	if entries := oldest.Val(); len(entries) == 1 {
		oldestAt := time.Unix(0, int64(entries[0].Score))
		retryAfter = oldestAt.Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
}
