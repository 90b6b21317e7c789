package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFixedWindowLimiter_HundredThenReject(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewFixedWindowLimiter(100, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Minute, res.RetryAfter(clock.Now()))

	clock.Advance(time.Minute)

	res, err = l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 99, res.Remaining)
}

func TestFixedWindowLimiter_WindowLengthSetsReset(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	l := NewFixedWindowLimiter(2, 15*time.Second, WithClock(clock.Now))

	res, err := l.Allow(context.Background(), "198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, start.Add(15*time.Second), res.ResetAt)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, 1, res.Remaining)
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(1, time.Minute)
	ctx := context.Background()

	res, _ := l.Allow(ctx, "a")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "a")
	assert.False(t, res.Allowed)
	res, _ = l.Allow(ctx, "b")
	assert.True(t, res.Allowed)
}

func TestFixedWindowLimiter_Purge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewFixedWindowLimiter(10, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Allow(ctx, fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 5, l.Len())

	// Expired, but not yet by a full extra window.
	clock.Advance(90 * time.Second)
	_, _ = l.Allow(ctx, "10.0.0.99")
	assert.Equal(t, 0, l.Purge())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 5, l.Purge())
	assert.Equal(t, 1, l.Len())
}

func TestFixedWindowLimiter_Concurrent(t *testing.T) {
	l := NewFixedWindowLimiter(100, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, _ := l.Allow(ctx, "same-sender")
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)
}

func TestFixedWindowLimiter_StopIsIdempotent(t *testing.T) {
	l := NewFixedWindowLimiter(1, time.Minute)
	l.StartCleanup(context.Background(), time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestTokenBucketMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(TokenBucketMiddleware(ctx, TokenBucketConfig{RPS: 1, Burst: 2}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
