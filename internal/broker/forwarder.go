package broker

import (
	"context"
	"time"

	"hookgate/internal/deadletter"
	"hookgate/internal/ingestion"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
)

// ForwardingApplier hands accepted webhooks to the CRUD application through
// a topic. A failed publish is an EXTERNAL_API_ERROR and is retried from the
// DLQ like any other downstream failure.
type ForwardingApplier struct {
	producer Producer
	topic    string
	logger   logger.Logger
	now      func() time.Time
}

func NewForwardingApplier(producer Producer, topic string, log logger.Logger) *ForwardingApplier {
	return &ForwardingApplier{producer: producer, topic: topic, logger: log, now: time.Now}
}

func (a *ForwardingApplier) Apply(ctx context.Context, d *ingestion.Delivery) (ledger.Outcome, error) {
	msg := ForwardedEvent{
		RequestID:   d.RequestID,
		WebhookID:   d.Event.WebhookID,
		Source:      d.Source,
		EventType:   d.Event.EventType,
		Email:       d.Event.Email,
		OccurredAt:  d.Event.OccurredAt,
		ForwardedAt: a.now().UTC(),
		Payload:     d.Raw,
	}

	if err := a.producer.Publish(ctx, a.topic, d.Source+":"+d.Event.WebhookID, msg); err != nil {
		return nil, err
	}

	a.logger.DebugwCtx(ctx, "Webhook forwarded",
		"topic", a.topic,
		"event_type", d.Event.EventType,
	)
	return ledger.Outcome{"forwarded_topic": a.topic}, nil
}

// AlertPublisher sends critical operational alerts to the alert topic.
type AlertPublisher struct {
	producer Producer
	topic    string
}

func NewAlertPublisher(producer Producer, topic string) *AlertPublisher {
	return &AlertPublisher{producer: producer, topic: topic}
}

func (p *AlertPublisher) Alert(ctx context.Context, alert deadletter.Alert) error {
	return p.producer.Publish(ctx, p.topic, alert.Kind+":"+alert.Source, alert)
}
