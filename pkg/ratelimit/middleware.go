package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// TokenBucketConfig configures the per-client token bucket used in front of
// operator endpoints.
type TokenBucketConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// TokenBucketMiddleware limits each client IP with its own token bucket. The
// cleanup goroutine exits when ctx is done.
func TokenBucketMiddleware(ctx context.Context, config TokenBucketConfig) gin.HandlerFunc {
	buckets := make(map[string]*bucket)
	var mu sync.RWMutex

	if config.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(config.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				mu.Lock()
				now := time.Now()
				for ip, b := range buckets {
					b.mu.Lock()
					lastSeen := b.lastSeen
					b.mu.Unlock()
					if now.Sub(lastSeen) > config.MaxAge {
						delete(buckets, ip)
					}
				}
				mu.Unlock()
			}
		}()
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		mu.RLock()
		b, exists := buckets[clientIP]
		mu.RUnlock()

		if !exists {
			mu.Lock()
			b, exists = buckets[clientIP]
			if !exists {
				b = &bucket{
					limiter:  rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
					lastSeen: time.Now(),
				}
				buckets[clientIP] = b
			}
			mu.Unlock()
		}

		b.mu.Lock()
		b.lastSeen = time.Now()
		b.mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(int(config.RPS)))

		if !b.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(apperrors.ErrRateLimited))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(b.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// SetHeaders writes the standard rate limit headers for a fixed-window result.
func SetHeaders(c *gin.Context, res Result, now time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		secs := int(res.RetryAfter(now).Seconds() + 0.999)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
}
