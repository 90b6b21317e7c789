package deadletter

import (
	"time"
)

// Event is one dead-lettered webhook. The inbound event it came from owns
// the lifecycle; this record owns retry state.
type Event struct {
	ID             string     `json:"id" bson:"_id"`
	WebhookEventID string     `json:"webhook_event_id,omitempty" bson:"webhook_event_id,omitempty"`
	Source         string     `json:"source" bson:"source"`
	EventType      string     `json:"event_type" bson:"event_type"`
	Payload        []byte     `json:"-" bson:"payload"`
	ErrorMessage   string     `json:"error_message" bson:"error_message"`
	ErrorCode      string     `json:"error_code" bson:"error_code"`
	ErrorStack     string     `json:"error_stack,omitempty" bson:"error_stack,omitempty"`
	Retryable      bool       `json:"retryable" bson:"retryable"`
	RetryCount     int        `json:"retry_count" bson:"retry_count"`
	NextRetryAt    *time.Time `json:"next_retry_at" bson:"next_retry_at"`
	LeasedUntil    *time.Time `json:"-" bson:"leased_until,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" bson:"updated_at"`
}

// IsTerminal reports whether the event waits for a human.
func (e *Event) IsTerminal() bool {
	return e.ResolvedAt == nil && e.NextRetryAt == nil
}

// ErrorInfo is the classification handed back to the caller of LogFailure.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Category  string `json:"category"`
}

type State string

const (
	StatePending  State = "pending"
	StateTerminal State = "terminal"
	StateResolved State = "resolved"
)

func ParseState(s string) (State, bool) {
	switch State(s) {
	case StatePending, StateTerminal, StateResolved:
		return State(s), true
	default:
		return "", false
	}
}

type ListFilter struct {
	State  State
	Source string
	Limit  int
	Offset int
}
