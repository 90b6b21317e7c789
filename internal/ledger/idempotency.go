package ledger

import (
	"context"
	"time"

	"hookgate/internal/constants"
	"hookgate/internal/logger"
	"hookgate/pkg/metrics"
)

const (
	ReasonWebhookIDProcessed = "webhook_id_already_processed"
	ReasonContentProcessed   = "payload_recently_processed"
)

type DuplicateCheck struct {
	IsDuplicate bool
	Reason      string
}

// IdempotencyChecker is the application-level duplicate check. The store's
// claim on (source, webhook_id) is the authoritative barrier; this catches
// redeliveries that arrive with a new id but identical content.
type IdempotencyChecker struct {
	store  EventStore
	window time.Duration
	logger logger.Logger
	now    func() time.Time
}

func NewIdempotencyChecker(store EventStore, contentWindow time.Duration, log logger.Logger) *IdempotencyChecker {
	if contentWindow <= 0 {
		contentWindow = constants.DefaultContentDedupWindow
	}
	return &IdempotencyChecker{
		store:  store,
		window: contentWindow,
		logger: log,
		now:    time.Now,
	}
}

// CheckDuplicate fails open: a store error is logged and reported as not a
// duplicate.
func (c *IdempotencyChecker) CheckDuplicate(ctx context.Context, webhookID, payloadHash, source string) DuplicateCheck {
	if webhookID != "" {
		found, err := c.store.HasSucceeded(ctx, source, webhookID)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Idempotency check by webhook id failed, continuing", "error", err)
			return DuplicateCheck{}
		}
		if found {
			metrics.IncDuplicate(source, "webhook_id")
			return DuplicateCheck{IsDuplicate: true, Reason: ReasonWebhookIDProcessed}
		}
	}

	if payloadHash != "" {
		found, err := c.store.HasSucceededByHash(ctx, source, payloadHash, c.now().Add(-c.window))
		if err != nil {
			c.logger.WarnwCtx(ctx, "Idempotency check by payload hash failed, continuing", "error", err)
			return DuplicateCheck{}
		}
		if found {
			metrics.IncDuplicate(source, "content")
			return DuplicateCheck{IsDuplicate: true, Reason: ReasonContentProcessed}
		}
	}

	return DuplicateCheck{}
}
