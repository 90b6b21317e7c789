package ledger

import (
	"context"
	"time"

	apperrors "hookgate/pkg/errors"
)

// ErrAlreadyClaimed is returned by Insert when another processing or
// successful row already holds (source, webhook_id).
var ErrAlreadyClaimed = apperrors.ErrNonceUsed

// ErrEventNotFound is returned by GetByRequestID for unknown ids.
var ErrEventNotFound = apperrors.ErrNotFound.WithMessage("inbound event not found")

// EventStore persists InboundEvents.
type EventStore interface {
	// Insert stores a new row. Rows in processing or success status claim
	// (source, webhook_id); a second claim fails with ErrAlreadyClaimed.
	Insert(ctx context.Context, ev *InboundEvent) error
	// UpdateStatus applies upd only if the row is still processing and
	// reports whether it did.
	UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) (bool, error)
	GetByRequestID(ctx context.Context, requestID string) (*InboundEvent, error)
	HasSucceeded(ctx context.Context, source, webhookID string) (bool, error)
	HasSucceededByHash(ctx context.Context, source, payloadHash string, since time.Time) (bool, error)
	// ListStuck returns processing rows received before olderThan.
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*InboundEvent, error)
}
