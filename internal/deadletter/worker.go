package deadletter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"hookgate/internal/constants"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/logging"
	"hookgate/pkg/metrics"
	"hookgate/pkg/tracing"
)

// Replayer re-runs the business effect of a dead-lettered event.
type Replayer interface {
	Replay(ctx context.Context, ev *Event) error
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	ReplayRPS    float64
	Delays       []time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: constants.DefaultDLQPollInterval,
		BatchSize:    constants.DefaultDLQBatchSize,
		Lease:        constants.DefaultDLQLease,
		ReplayRPS:    constants.DefaultDLQReplayRPS,
		Delays:       DefaultDelays,
	}
}

// Worker replays due DLQ events on a fixed poll interval.
type Worker struct {
	store    Store
	replayer Replayer
	cfg      WorkerConfig
	limiter  *rate.Limiter
	logger   logger.Logger
	now      func() time.Time
}

func NewWorker(store Store, replayer Replayer, cfg WorkerConfig, log logger.Logger) *Worker {
	if cfg.ReplayRPS <= 0 {
		cfg.ReplayRPS = constants.DefaultDLQReplayRPS
	}
	if len(cfg.Delays) == 0 {
		cfg.Delays = DefaultDelays
	}
	return &Worker{
		store:    store,
		replayer: replayer,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ReplayRPS), 1),
		logger:   log,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infow("DLQ retry worker started",
		"poll_interval", w.cfg.PollInterval,
		"batch_size", w.cfg.BatchSize,
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("DLQ retry worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil && ctx.Err() == nil {
				w.logger.Errorw("DLQ retry pass failed", "error", err)
			}
		}
	}
}

// ProcessDue claims and replays one batch and returns how many events it
// handled.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	events, err := w.store.ClaimDue(ctx, w.now(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, ev := range events {
		if err := w.limiter.Wait(ctx); err != nil {
			return handled, err
		}
		w.replay(ctx, ev)
		handled++
	}
	return handled, nil
}

func (w *Worker) replay(ctx context.Context, ev *Event) {
	ctx = logging.WithSource(logging.WithRequestID(ctx, ev.WebhookEventID), ev.Source)
	ctx, span := tracing.StartWebhookSpan(ctx, "webhook.replay", ev.Source, ev.EventType, ev.WebhookEventID)

	err := w.safeReplay(ctx, ev)
	now := w.now()

	if err == nil {
		tracing.EndWebhookSpan(span, "resolved", nil)
		if merr := w.store.MarkResolved(ctx, ev.ID, now); merr != nil {
			w.logger.ErrorwCtx(ctx, "Replay succeeded but DLQ event could not be resolved",
				"dlq_id", ev.ID,
				"error", merr,
			)
		}
		metrics.IncDLQRetry(ev.Source, "resolved")
		w.logger.InfowCtx(ctx, "DLQ event replayed successfully",
			"dlq_id", ev.ID,
			"retry_count", ev.RetryCount+1,
		)
		return
	}

	tracing.EndWebhookSpan(span, "failed", err)

	info, stack := Classify(err)
	retryCount := ev.RetryCount + 1
	next := NextRetryAt(NewSchedule(w.cfg.Delays...), retryCount, info.Retryable, now)

	failure := RetryFailure{Info: info, Stack: stack, NextRetryAt: next, At: now}
	if ferr := w.store.RecordRetryFailure(ctx, ev.ID, failure); ferr != nil {
		w.logger.ErrorwCtx(ctx, "Failed to record DLQ retry failure",
			"dlq_id", ev.ID,
			"error", ferr,
		)
		return
	}

	if next == nil {
		metrics.IncDLQRetry(ev.Source, "exhausted")
		w.logger.ErrorwCtx(ctx, "DLQ event exhausted automatic retries, manual review required",
			"dlq_id", ev.ID,
			"retry_count", retryCount,
			"error_code", info.Code,
			"retryable", info.Retryable,
		)
		return
	}

	metrics.IncDLQRetry(ev.Source, "failed")
	w.logger.WarnwCtx(ctx, "DLQ replay failed, rescheduled",
		"dlq_id", ev.ID,
		"retry_count", retryCount,
		"error_code", info.Code,
		"next_retry_at", next,
	)
}

func (w *Worker) safeReplay(ctx context.Context, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return w.replayer.Replay(ctx, ev)
}
