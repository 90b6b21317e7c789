package ledger

import (
	"context"
	"errors"
	"time"

	"hookgate/internal/constants"
	"hookgate/internal/logger"
	"hookgate/pkg/metrics"
)

// RecordResult tells the caller what Record managed to store.
type RecordResult int

const (
	// Recorded means the event was stored in processing status.
	Recorded RecordResult = iota
	// ClaimedElsewhere means another delivery of the same webhook id is in
	// flight or already succeeded. The event was stored as duplicate.
	ClaimedElsewhere
	// Unrecorded means the write failed. Processing continues regardless.
	Unrecorded
)

// Recorder writes the ledger on behalf of the request path. Its writes run on
// a context detached from the request so a client disconnect cannot abort
// them, and its failures are logged, never returned.
type Recorder struct {
	store   EventStore
	logger  logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store EventStore, log logger.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  log,
		timeout: constants.RecorderWriteTimeout,
		now:     time.Now,
	}
}

func (r *Recorder) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// Record stores ev in processing status. If the webhook id is already
// claimed the event is stored as a duplicate instead.
func (r *Recorder) Record(ctx context.Context, ev *InboundEvent) RecordResult {
	wctx, cancel := r.detached(ctx)
	defer cancel()

	ev.Status = StatusProcessing
	err := r.store.Insert(wctx, ev)
	if err == nil {
		return Recorded
	}

	if !errors.Is(err, ErrAlreadyClaimed) {
		metrics.IncLedgerWriteFailure("record")
		r.logger.ErrorwCtx(ctx, "Failed to record inbound event",
			"webhook_id", ev.WebhookID,
			"error", err,
		)
		return Unrecorded
	}

	now := r.now()
	var zero int64
	ev.Status = StatusDuplicate
	ev.ProcessedAt = &now
	ev.ProcessingDurationMs = &zero
	ev.RawPayload = nil
	if err := r.store.Insert(wctx, ev); err != nil {
		metrics.IncLedgerWriteFailure("record_duplicate")
		r.logger.ErrorwCtx(ctx, "Failed to record duplicate delivery",
			"webhook_id", ev.WebhookID,
			"error", err,
		)
	}
	return ClaimedElsewhere
}

// UpdateStatus moves the event to a terminal status and reports whether the
// transition was applied.
func (r *Recorder) UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) bool {
	wctx, cancel := r.detached(ctx)
	defer cancel()

	if upd.ProcessedAt.IsZero() {
		upd.ProcessedAt = r.now()
	}

	updated, err := r.store.UpdateStatus(wctx, requestID, upd)
	if err != nil {
		metrics.IncLedgerWriteFailure("update_status")
		r.logger.ErrorwCtx(ctx, "Failed to update inbound event status",
			"status", upd.Status,
			"error", err,
		)
		return false
	}
	if !updated {
		r.logger.WarnwCtx(ctx, "Inbound event was not in processing state, status unchanged",
			"status", upd.Status,
		)
	}
	return updated
}
