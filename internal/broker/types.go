package broker

import (
	"context"
	"encoding/json"
	"time"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

// ForwardedEvent is what the CRUD application consumes from the forward
// topic: a verified, deduplicated webhook with its contact already resolved
// to an email.
type ForwardedEvent struct {
	RequestID   string          `json:"request_id"`
	WebhookID   string          `json:"webhook_id"`
	Source      string          `json:"source"`
	EventType   string          `json:"event_type"`
	Email       string          `json:"email"`
	OccurredAt  *time.Time      `json:"occurred_at,omitempty"`
	ForwardedAt time.Time       `json:"forwarded_at"`
	Payload     json.RawMessage `json:"payload"`
}
