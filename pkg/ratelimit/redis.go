package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hookgate/internal/constants"
	"hookgate/pkg/circuitbreaker"
)

// RedisLimiter is a fixed-window limiter shared by every instance pointing at
// the same Redis. Each window is one key, INCR'd and expired atomically.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
	cb     *circuitbreaker.Wrapper
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, max int, window time.Duration, cb *circuitbreaker.Wrapper) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		max:    max,
		window: window,
		prefix: constants.CacheKeyPrefixRateLimit,
		cb:     cb,
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string, now time.Time) (string, time.Time) {
	start := now.Truncate(l.window)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, start.UnixMilli()), start.Add(l.window)
}

// Allow fails open: when Redis is unreachable or the breaker is open the
// returned Result allows the request and the error is returned alongside it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	redisKey, resetAt := l.windowKey(key, now)

	var count int64
	op := func() error {
		pipe := l.client.TxPipeline()
		incr := pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.window)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis rate limit pipeline failed: %w", err)
		}
		count = incr.Val()
		return nil
	}

	var err error
	if l.cb != nil {
		err = l.cb.Do(ctx, op)
	} else {
		err = op()
	}
	if err != nil {
		return Result{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: resetAt}, err
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
