//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/testinfra"
)

func TestRedisLimiter_EnforcesWindow(t *testing.T) {
	client := testinfra.Redis(t)
	ctx := context.Background()

	l := NewRedisLimiter(client, 3, time.Minute, nil)
	l.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 30, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "stripe:203.0.113.7")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "stripe:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 1, 0, 0, time.UTC), res.ResetAt)

	other, err := l.Allow(ctx, "stripe:198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	keys, err := client.Keys(ctx, "*stripe:203.0.113.7*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	ttl, err := client.PTTL(ctx, keys[0]).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := testinfra.Redis(t)
	l := NewRedisLimiter(client, 1, time.Minute, nil)
	require.NoError(t, client.Close())

	res, err := l.Allow(context.Background(), "stripe:203.0.113.7")
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}
