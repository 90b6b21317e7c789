package deadletter

import (
	"context"
	"time"

	"hookgate/internal/constants"
	apperrors "hookgate/pkg/errors"
)

var (
	ErrEventNotFound = apperrors.ErrNotFound.WithMessage("dead letter event not found")
	ErrNotTerminal   = apperrors.ErrConflict.WithMessage("dead letter event is not awaiting manual review")
)

// RetryFailure is what the worker records after a failed replay.
type RetryFailure struct {
	Info        ErrorInfo
	Stack       string
	NextRetryAt *time.Time
	At          time.Time
}

type Store interface {
	Insert(ctx context.Context, ev *Event) error
	// ClaimDue leases up to limit unresolved events whose next retry is due,
	// so concurrent workers do not replay the same event.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error)
	// RecordRetryFailure increments retry_count and releases the lease.
	RecordRetryFailure(ctx context.Context, id string, f RetryFailure) error
	MarkResolved(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context, filter ListFilter) ([]*Event, error)
	// Requeue schedules a terminal event for one more automatic attempt.
	Requeue(ctx context.Context, id string, at time.Time) error
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = constants.DefaultLimit
	}
	if f.Limit > constants.MaxLimit {
		f.Limit = constants.MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
