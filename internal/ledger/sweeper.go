package ledger

import (
	"context"
	"time"

	"hookgate/internal/constants"
	"hookgate/internal/deadletter"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

// FailureLogger is the part of the dead letter handler the sweeper needs.
type FailureLogger interface {
	LogFailure(ctx context.Context, source, eventType string, payload []byte, err error, webhookEventID string) deadletter.ErrorInfo
}

// Sweeper fails events that stayed in processing past stuckAfter, usually
// because the request timed out or the process died mid-request, and dead
// letters them from the raw payload kept on the row.
type Sweeper struct {
	store      EventStore
	dlq        FailureLogger
	interval   time.Duration
	stuckAfter time.Duration
	batch      int
	logger     logger.Logger
	now        func() time.Time
}

func NewSweeper(store EventStore, dlq FailureLogger, interval, stuckAfter time.Duration, log logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = constants.DefaultSweepInterval
	}
	if stuckAfter <= 0 {
		stuckAfter = constants.DefaultStuckAfter
	}
	return &Sweeper{
		store:      store,
		dlq:        dlq,
		interval:   interval,
		stuckAfter: stuckAfter,
		batch:      constants.DefaultSweepBatch,
		logger:     log,
		now:        time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Infow("Stuck event sweeper started", "interval", s.interval, "stuck_after", s.stuckAfter)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stuck event sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorw("Stuck event sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce handles one batch and returns how many events it failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	stuck, err := s.store.ListStuck(ctx, now.Add(-s.stuckAfter), s.batch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, ev := range stuck {
		timeoutErr := apperrors.ErrProcessingTimeout.WithDetail("stuck_since", ev.ReceivedAt)
		updated, err := s.store.UpdateStatus(ctx, ev.RequestID, StatusUpdate{
			Status:       StatusFailed,
			ProcessedAt:  now,
			Duration:     now.Sub(ev.ReceivedAt),
			ErrorCode:    timeoutErr.Code,
			ErrorMessage: timeoutErr.Message,
		})
		if err != nil {
			s.logger.Errorw("Failed to mark stuck event failed", "request_id", ev.RequestID, "error", err)
			continue
		}
		if !updated {
			// Finished concurrently.
			continue
		}

		s.dlq.LogFailure(ctx, ev.Source, ev.EventType, ev.RawPayload, timeoutErr, ev.RequestID)
		swept++
	}

	if swept > 0 {
		metrics.IncStuckEventsSwept(swept)
		s.logger.Warnw("Marked stuck events as failed", "count", swept)
	}
	return swept, nil
}
