package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hookgate/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int

	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("broker unavailable")

	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return boom
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0

	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return apperrors.ErrInvalidPayload
	}, nil)

	assert.True(t, errors.Is(err, apperrors.ErrInvalidPayload))
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return Permanent(errors.New("bad credentials"))
	}, nil)
	assert.EqualError(t, err, "bad credentials")
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableAppError(t *testing.T) {
	calls := 0

	err := Do(context.Background(), fastPolicy(2), func() error {
		calls++
		return apperrors.ErrDBTimeout
	}, nil)

	assert.True(t, errors.Is(err, apperrors.ErrDBTimeout))
	assert.Equal(t, 2, calls)
}

func TestDo_HonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), func() error {
		calls++
		return errors.New("unreachable")
	}, nil)

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
