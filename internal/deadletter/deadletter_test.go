package deadletter

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestSchedule_IsBoundedBackOff(t *testing.T) {
	var b backoff.BackOff = NewSchedule()

	assert.Equal(t, time.Minute, b.NextBackOff())
	assert.Equal(t, 5*time.Minute, b.NextBackOff())
	assert.Equal(t, 30*time.Minute, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Minute, b.NextBackOff())
}

func TestNextRetryAt(t *testing.T) {
	tests := []struct {
		retryCount int
		retryable  bool
		want       *time.Duration
	}{
		{0, true, dur(time.Minute)},
		{1, true, dur(5 * time.Minute)},
		{2, true, dur(30 * time.Minute)},
		{3, true, nil},
		{7, true, nil},
		{0, false, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d retryable=%v", tt.retryCount, tt.retryable), func(t *testing.T) {
			got := NextRetryAt(NewSchedule(), tt.retryCount, tt.retryable, t0)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, t0.Add(*tt.want), *got)
		})
	}
}

func dur(d time.Duration) *time.Duration { return &d }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"db timeout", apperrors.ErrDBTimeout, "DB_TIMEOUT", true},
		{"db connection", apperrors.ErrDBConnection.WithCause(stderrors.New("dial tcp")), "DB_CONNECTION_ERROR", true},
		{"duplicate key", apperrors.ErrDBDuplicateKey, "DB_DUPLICATE_KEY", false},
		{"invalid email", apperrors.ErrInvalidEmail, "INVALID_EMAIL", false},
		{"contact not found", apperrors.ErrContactNotFound, "CONTACT_NOT_FOUND", false},
		{"upstream timeout", apperrors.ErrExternalTimeout, "EXTERNAL_API_TIMEOUT", true},
		{"upstream error", apperrors.ErrExternalAPI, "EXTERNAL_API_ERROR", true},
		{"rate limited", apperrors.ErrRateLimited, "RATE_LIMITED", true},
		{"nonce used", apperrors.ErrNonceUsed, "NONCE_USED", false},
		{"deadline", context.DeadlineExceeded, "PROCESSING_TIMEOUT", true},
		{"plain", stderrors.New("something odd"), "UNKNOWN_ERROR", true},
		{"panic", apperrors.RecoverPanic("boom"), "INTERNAL_ERROR", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, _ := Classify(tt.err)
			assert.Equal(t, tt.code, info.Code)
			assert.Equal(t, tt.retryable, info.Retryable)
			assert.NotEmpty(t, info.Message)
		})
	}

	_, stack := Classify(apperrors.RecoverPanic("boom"))
	assert.Contains(t, stack, "goroutine")
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *recordingAlerter) Alert(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func TestHandler_LogFailure(t *testing.T) {
	store := NewMemoryStore()
	h := NewHandler(store, logger.NopLogger(), WithHandlerClock(func() time.Time { return t0 }))

	info := h.LogFailure(context.Background(), "stripe", "charge.succeeded", []byte(`{"id":"evt_1"}`),
		apperrors.ErrDBTimeout.WithCause(stderrors.New("i/o timeout")), "req-1")

	assert.Equal(t, "DB_TIMEOUT", info.Code)
	assert.True(t, info.Retryable)

	events := store.All()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "req-1", ev.WebhookEventID)
	assert.Equal(t, 0, ev.RetryCount)
	require.NotNil(t, ev.NextRetryAt)
	assert.Equal(t, t0.Add(time.Minute), *ev.NextRetryAt)
	assert.Equal(t, []byte(`{"id":"evt_1"}`), ev.Payload)
}

func TestHandler_NonRetryableIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	h := NewHandler(store, logger.NopLogger())

	info := h.LogFailure(context.Background(), "thinkific", "order.created", []byte(`{}`), apperrors.ErrInvalidEmail, "req-2")
	assert.False(t, info.Retryable)

	events := store.All()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].NextRetryAt)
	assert.True(t, events[0].IsTerminal())
}

func TestHandler_OrphanedFailureAlerts(t *testing.T) {
	store := NewMemoryStore()
	store.FailInserts(apperrors.ErrDBConnection)
	alerter := &recordingAlerter{}
	h := NewHandler(store, logger.NopLogger(), WithAlerter(alerter))

	info := h.LogFailure(context.Background(), "stripe", "charge.succeeded", []byte(`{}`), stderrors.New("boom"), "req-3")

	assert.Equal(t, "UNKNOWN_ERROR", info.Code)
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, SeverityCritical, alerter.alerts[0].Severity)
	assert.Equal(t, KindOrphanedFailure, alerter.alerts[0].Kind)
	assert.Equal(t, "req-3", alerter.alerts[0].WebhookEventID)
	assert.Empty(t, store.All())
}

type scriptedReplayer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedReplayer) Replay(_ context.Context, _ *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	if err != nil && err.Error() == "panic" {
		panic("replayer exploded")
	}
	return err
}

func newTestWorker(store Store, replayer Replayer, clock *time.Time) *Worker {
	cfg := DefaultWorkerConfig()
	cfg.ReplayRPS = 1000
	w := NewWorker(store, replayer, cfg, logger.NopLogger())
	w.now = func() time.Time { return *clock }
	return w
}

func seedRetryable(t *testing.T, store *MemoryStore, now time.Time) string {
	t.Helper()
	h := NewHandler(store, logger.NopLogger(), WithHandlerClock(func() time.Time { return now }))
	h.LogFailure(context.Background(), "stripe", "charge.succeeded", []byte(`{}`), apperrors.ErrDBTimeout, "req-w")
	events := store.All()
	require.Len(t, events, 1)
	return events[0].ID
}

func TestWorker_ExhaustsAfterThreeRetryFailures(t *testing.T) {
	store := NewMemoryStore()
	clock := t0
	id := seedRetryable(t, store, clock)

	replayer := &scriptedReplayer{errs: []error{apperrors.ErrDBTimeout, apperrors.ErrDBTimeout, apperrors.ErrDBTimeout}}
	w := newTestWorker(store, replayer, &clock)
	ctx := context.Background()

	// Not yet due.
	n, err := w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	expectNext := []time.Duration{5 * time.Minute, 30 * time.Minute}
	for i, step := range []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute} {
		clock = clock.Add(step)
		n, err := w.ProcessDue(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		ev, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i+1, ev.RetryCount)
		if i < len(expectNext) {
			require.NotNil(t, ev.NextRetryAt)
			assert.Equal(t, clock.Add(expectNext[i]), *ev.NextRetryAt)
		} else {
			assert.Nil(t, ev.NextRetryAt)
			assert.True(t, ev.IsTerminal())
		}
	}

	clock = clock.Add(24 * time.Hour)
	n, err = w.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, replayer.calls)
}

func TestWorker_ResolvesOnSuccess(t *testing.T) {
	store := NewMemoryStore()
	clock := t0
	id := seedRetryable(t, store, clock)

	w := newTestWorker(store, &scriptedReplayer{}, &clock)
	clock = clock.Add(time.Minute)

	n, err := w.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, ev.ResolvedAt)
	assert.Nil(t, ev.NextRetryAt)
	assert.Equal(t, 0, ev.RetryCount)
}

func TestWorker_NonRetryableReplayFailureStops(t *testing.T) {
	store := NewMemoryStore()
	clock := t0
	id := seedRetryable(t, store, clock)

	w := newTestWorker(store, &scriptedReplayer{errs: []error{stderrors.New("panic")}}, &clock)
	clock = clock.Add(time.Minute)

	_, err := w.ProcessDue(context.Background())
	require.NoError(t, err)

	ev, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.RetryCount)
	assert.Equal(t, "INTERNAL_ERROR", ev.ErrorCode)
	assert.False(t, ev.Retryable)
	assert.Nil(t, ev.NextRetryAt)
}

func TestMemoryStore_LeasePreventsDoubleClaim(t *testing.T) {
	store := NewMemoryStore()
	seedRetryable(t, store, t0)
	ctx := context.Background()

	now := t0.Add(time.Minute)
	first, err := store.ClaimDue(ctx, now, 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := store.ClaimDue(ctx, now.Add(time.Second), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := store.ClaimDue(ctx, now.Add(3*time.Minute), 2*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestMemoryStore_Requeue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	h := NewHandler(store, logger.NopLogger(), WithHandlerClock(func() time.Time { return t0 }))
	h.LogFailure(ctx, "stripe", "x", []byte(`{}`), apperrors.ErrContactNotFound, "")
	h.LogFailure(ctx, "stripe", "x", []byte(`{}`), apperrors.ErrDBTimeout, "")

	terminal, err := store.List(ctx, ListFilter{State: StateTerminal})
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	pending, err := store.List(ctx, ListFilter{State: StatePending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	assert.ErrorIs(t, store.Requeue(ctx, pending[0].ID, t0), ErrNotTerminal)
	assert.True(t, apperrors.IsNotFound(store.Requeue(ctx, "missing", t0)))

	require.NoError(t, store.Requeue(ctx, terminal[0].ID, t0.Add(time.Hour)))
	ev, err := store.Get(ctx, terminal[0].ID)
	require.NoError(t, err)
	require.NotNil(t, ev.NextRetryAt)
	assert.Equal(t, t0.Add(time.Hour), *ev.NextRetryAt)
}
