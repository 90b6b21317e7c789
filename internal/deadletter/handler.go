package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hookgate/internal/constants"
	"hookgate/internal/logger"
	"hookgate/pkg/metrics"
)

const (
	SeverityCritical    = "critical"
	KindOrphanedFailure = "orphaned_failure"
)

// Alert is a critical operational signal for on-call.
type Alert struct {
	Severity       string    `json:"severity"`
	Kind           string    `json:"kind"`
	Source         string    `json:"source"`
	EventType      string    `json:"event_type,omitempty"`
	WebhookEventID string    `json:"webhook_event_id,omitempty"`
	ErrorCode      string    `json:"error_code"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// Handler classifies processing failures and persists them with their first
// retry slot.
type Handler struct {
	store   Store
	alerter Alerter
	delays  []time.Duration
	logger  logger.Logger
	timeout time.Duration
	now     func() time.Time
}

type HandlerOption func(*Handler)

func WithAlerter(a Alerter) HandlerOption {
	return func(h *Handler) {
		h.alerter = a
	}
}

func WithDelays(delays ...time.Duration) HandlerOption {
	return func(h *Handler) {
		h.delays = delays
	}
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(store Store, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:   store,
		delays:  DefaultDelays,
		logger:  log,
		timeout: constants.RecorderWriteTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LogFailure classifies err, writes a DLQ record and returns the
// classification. A failed write is logged and alerted on but never
// returned: the caller's response must not depend on it.
func (h *Handler) LogFailure(ctx context.Context, source, eventType string, payload []byte, err error, webhookEventID string) ErrorInfo {
	info, stack := Classify(err)
	now := h.now()

	ev := &Event{
		ID:             uuid.New().String(),
		WebhookEventID: webhookEventID,
		Source:         source,
		EventType:      eventType,
		Payload:        payload,
		ErrorMessage:   info.Message,
		ErrorCode:      info.Code,
		ErrorStack:     stack,
		Retryable:      info.Retryable,
		RetryCount:     0,
		NextRetryAt:    NextRetryAt(NewSchedule(h.delays...), 0, info.Retryable, now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	if werr := h.store.Insert(wctx, ev); werr != nil {
		h.orphaned(wctx, ev, werr)
		return info
	}

	metrics.IncDLQEvent(source, info.Code, info.Retryable)
	h.logger.WarnwCtx(ctx, "Webhook processing failed, dead letter recorded",
		"dlq_id", ev.ID,
		"error_code", info.Code,
		"retryable", info.Retryable,
		"next_retry_at", ev.NextRetryAt,
	)
	return info
}

func (h *Handler) orphaned(ctx context.Context, ev *Event, writeErr error) {
	metrics.IncDLQOrphaned(ev.Source)
	h.logger.ErrorwCtx(ctx, "Failed to write dead letter record, failure has no retry path",
		"severity", SeverityCritical,
		"webhook_event_id", ev.WebhookEventID,
		"error_code", ev.ErrorCode,
		"error", writeErr,
	)

	if h.alerter == nil {
		return
	}
	alert := Alert{
		Severity:       SeverityCritical,
		Kind:           KindOrphanedFailure,
		Source:         ev.Source,
		EventType:      ev.EventType,
		WebhookEventID: ev.WebhookEventID,
		ErrorCode:      ev.ErrorCode,
		Message:        writeErr.Error(),
		OccurredAt:     ev.CreatedAt,
	}
	if err := h.alerter.Alert(ctx, alert); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to publish critical alert", "error", err)
	}
}
