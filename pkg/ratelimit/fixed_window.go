package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const shardCount = 32

type window struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// FixedWindowLimiter allows up to max requests per key within each window.
// Counters live in process memory; a restart resets them.
type FixedWindowLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time
	shards [shardCount]*shard

	stopOnce sync.Once
	stop     chan struct{}
}

type Option func(*FixedWindowLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

func NewFixedWindowLimiter(max int, windowLen time.Duration, opts ...Option) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		max:    max,
		window: windowLen,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FixedWindowLimiter) shardFor(key string) *shard {
	return l.shards[murmur3.Sum32([]byte(key))%shardCount]
}

func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		s.windows[key] = w
	}

	if w.count >= l.max {
		return Result{Allowed: false, Limit: l.max, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Result{Allowed: true, Limit: l.max, Remaining: l.max - w.count, ResetAt: w.resetAt}, nil
}

// Purge drops windows that expired more than one window ago and returns how
// many were removed.
func (l *FixedWindowLimiter) Purge() int {
	cutoff := l.now().Add(-l.window)
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if w.resetAt.Before(cutoff) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// StartCleanup purges stale windows every interval until ctx is done or Stop
// is called.
func (l *FixedWindowLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.Purge()
			}
		}
	}()
}

func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
