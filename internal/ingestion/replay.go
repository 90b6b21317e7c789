package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
)

var (
	errClaimHeld = apperrors.ErrNonceUsed.
			WithMessage("webhook id is held by a delivery in flight, replay postponed").
			AsRetryable()
	errLedgerUnavailable = apperrors.ErrDBConnection.
				WithMessage("inbound event ledger unavailable, replay postponed")
)

// Replayer re-runs dead-lettered events through the same ledger claim as the
// endpoint, so a replay and a sender's own redelivery never both apply one
// webhook.
type Replayer struct {
	processor   *Processor
	recorder    *ledger.Recorder
	idempotency *ledger.IdempotencyChecker
	logger      logger.Logger
	now         func() time.Time
}

func NewReplayer(p *Processor, recorder *ledger.Recorder, idempotency *ledger.IdempotencyChecker, log logger.Logger) *Replayer {
	return &Replayer{
		processor:   p,
		recorder:    recorder,
		idempotency: idempotency,
		logger:      log,
		now:         time.Now,
	}
}

// Replay resolves ev without applying it when the webhook has already
// succeeded. Otherwise it claims (source, webhook_id) with a fresh ledger
// row, applies the event and records the result there. A claim held by a
// live delivery, or a ledger that cannot be written, postpones the replay.
// Events skipped on replay count as handled.
func (r *Replayer) Replay(ctx context.Context, ev *deadletter.Event) error {
	src, err := LookupSource(ev.Source)
	if err != nil {
		return apperrors.ErrInvalidPayload.WithCause(err)
	}

	parsed, err := src.Parse(ev.Payload)
	if err != nil {
		return err
	}

	hash := ledger.HashPayload(ev.Payload)
	if dup := r.idempotency.CheckDuplicate(ctx, parsed.WebhookID, hash, ev.Source); dup.IsDuplicate {
		r.logger.InfowCtx(ctx, "Dead-lettered webhook already processed, resolving without replay",
			"webhook_id", parsed.WebhookID,
			"reason", dup.Reason,
		)
		return nil
	}

	start := r.now()
	row := &ledger.InboundEvent{
		RequestID:   uuid.New().String(),
		WebhookID:   webhookIDOf(parsed),
		Source:      ev.Source,
		EventType:   parsed.EventType,
		PayloadHash: hash,
		PayloadSize: len(ev.Payload),
		RawPayload:  ev.Payload,
		// Only authenticated deliveries are dead-lettered.
		SignatureValid: true,
		ReceivedAt:     start,
	}

	switch r.recorder.Record(ctx, row) {
	case ledger.ClaimedElsewhere:
		return errClaimHeld.WithDetail("webhook_id", row.WebhookID)
	case ledger.Unrecorded:
		return errLedgerUnavailable
	}

	res := r.processor.Process(ctx, &Delivery{
		Source:    ev.Source,
		RequestID: row.RequestID,
		Event:     parsed,
		Raw:       ev.Payload,
	})

	upd := ledger.StatusUpdate{
		Status:       res.Status,
		Duration:     r.now().Sub(start),
		Outcome:      res.Outcome,
		ErrorMessage: res.Reason,
	}
	if res.Status == ledger.StatusFailed {
		info, _ := deadletter.Classify(res.Err)
		upd.ErrorCode = info.Code
		upd.ErrorMessage = info.Message
	}
	r.recorder.UpdateStatus(ctx, row.RequestID, upd)

	r.logger.InfowCtx(ctx, "Dead-lettered webhook replayed",
		"webhook_id", row.WebhookID,
		"replay_request_id", row.RequestID,
		"status", res.Status,
	)

	if res.Status == ledger.StatusFailed {
		return res.Err
	}
	return nil
}
