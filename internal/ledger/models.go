package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusDuplicate  Status = "duplicate"
	// StatusAcceptedUnprocessed marks an authenticated event that was
	// acknowledged without business effect: no contact to attach it to, or
	// filtered out by the source's accept rule.
	StatusAcceptedUnprocessed Status = "accepted_unprocessed"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusDuplicate, StatusAcceptedUnprocessed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a row may move from one status to another.
// Only processing rows move, and never back to processing.
func CanTransition(from, to Status) bool {
	return from == StatusProcessing && to.IsTerminal()
}

// Outcome links an event to the business records it produced. The keys are
// opaque to the ledger (contact_id, transaction_id, forwarded_topic ...).
type Outcome map[string]string

// InboundEvent is one accepted webhook delivery attempt.
type InboundEvent struct {
	RequestID string `json:"request_id" bson:"_id"`
	WebhookID string `json:"webhook_id" bson:"webhook_id"`
	Source    string `json:"source" bson:"source"`
	EventType string `json:"event_type,omitempty" bson:"event_type,omitempty"`

	PayloadHash string `json:"payload_hash" bson:"payload_hash"`
	PayloadSize int    `json:"payload_size" bson:"payload_size"`
	// RawPayload is kept so a stuck event can still be dead-lettered. It is
	// never returned by the admin API.
	RawPayload []byte `json:"-" bson:"raw_payload,omitempty"`

	IPAddress        string     `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	SignatureValid   bool       `json:"signature_valid" bson:"signature_valid"`
	WebhookTimestamp *time.Time `json:"webhook_timestamp,omitempty" bson:"webhook_timestamp,omitempty"`

	Status               Status     `json:"status" bson:"status"`
	ReceivedAt           time.Time  `json:"received_at" bson:"received_at"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	ProcessingDurationMs *int64     `json:"processing_duration_ms,omitempty" bson:"processing_duration_ms,omitempty"`

	Outcome      Outcome `json:"outcome,omitempty" bson:"outcome,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty" bson:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// StatusUpdate moves a processing row to a terminal status.
type StatusUpdate struct {
	Status       Status
	ProcessedAt  time.Time
	Duration     time.Duration
	Outcome      Outcome
	ErrorCode    string
	ErrorMessage string
}

// HashPayload is the content fingerprint used for duplicate detection.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
