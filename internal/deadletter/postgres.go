package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const dlqColumns = `
	id, webhook_event_id, source, event_type, payload, error_message, error_code, error_stack,
	retryable, retry_count, next_retry_at, leased_until, resolved_at, created_at, updated_at
`

func (s *PostgresStore) Insert(ctx context.Context, ev *Event) (err error) {
	defer observe("dlq_insert", time.Now(), &err)

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO dlq_events (
			id, webhook_event_id, source, event_type, payload, error_message, error_code, error_stack,
			retryable, retry_count, next_retry_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID, nullString(ev.WebhookEventID), ev.Source, ev.EventType, ev.Payload,
		apperrors.Truncate(ev.ErrorMessage), ev.ErrorCode, nullString(ev.ErrorStack),
		ev.Retryable, ev.RetryCount, ev.NextRetryAt, ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return dbError("insert dead letter event", err)
	}
	return nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) (events []*Event, err error) {
	defer observe("dlq_claim_due", time.Now(), &err)

	query := `
		UPDATE dlq_events
		SET leased_until = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM dlq_events
			WHERE resolved_at IS NULL
				AND next_retry_at IS NOT NULL
				AND next_retry_at <= $1
				AND (leased_until IS NULL OR leased_until < $1)
			ORDER BY next_retry_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + dlqColumns

	rows, err := s.db.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, dbError("claim due dead letter events", err)
	}
	defer rows.Close()

	events, err = scanEvents(ctx, rows)
	if err != nil {
		return nil, dbError("claim due dead letter events", err)
	}
	return events, nil
}

func (s *PostgresStore) RecordRetryFailure(ctx context.Context, id string, f RetryFailure) (err error) {
	defer observe("dlq_record_retry_failure", time.Now(), &err)

	query := `
		UPDATE dlq_events
		SET retry_count = retry_count + 1,
			next_retry_at = $2,
			error_code = $3,
			error_message = $4,
			error_stack = $5,
			retryable = $6,
			leased_until = NULL,
			updated_at = $7
		WHERE id = $1 AND resolved_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query,
		id, f.NextRetryAt, f.Info.Code, apperrors.Truncate(f.Info.Message), nullString(f.Stack), f.Info.Retryable, f.At,
	)
	if err != nil {
		return dbError("record dead letter retry failure", err)
	}
	return expectOne(res, id)
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id string, at time.Time) (err error) {
	defer observe("dlq_mark_resolved", time.Now(), &err)

	query := `
		UPDATE dlq_events
		SET resolved_at = $2, next_retry_at = NULL, leased_until = NULL, updated_at = $2
		WHERE id = $1 AND resolved_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return dbError("resolve dead letter event", err)
	}
	return expectOne(res, id)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (ev *Event, err error) {
	defer observe("dlq_get", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+dlqColumns+` FROM dlq_events WHERE id = $1`, id)
	ev, err = scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound.WithDetail("id", id)
	}
	if err != nil {
		return nil, dbError("get dead letter event", err)
	}
	return ev, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) (events []*Event, err error) {
	defer observe("dlq_list", time.Now(), &err)
	filter = filter.normalized()

	var (
		conditions []string
		args       []interface{}
	)

	switch filter.State {
	case StatePending:
		conditions = append(conditions, "resolved_at IS NULL", "next_retry_at IS NOT NULL")
	case StateTerminal:
		conditions = append(conditions, "resolved_at IS NULL", "next_retry_at IS NULL")
	case StateResolved:
		conditions = append(conditions, "resolved_at IS NOT NULL")
	}

	if filter.Source != "" {
		args = append(args, filter.Source)
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `SELECT ` + dlqColumns + ` FROM dlq_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list dead letter events", err)
	}
	defer rows.Close()

	events, err = scanEvents(ctx, rows)
	if err != nil {
		return nil, dbError("list dead letter events", err)
	}
	return events, nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id string, at time.Time) (err error) {
	defer observe("dlq_requeue", time.Now(), &err)

	query := `
		UPDATE dlq_events
		SET next_retry_at = $2, updated_at = $2
		WHERE id = $1 AND resolved_at IS NULL AND next_retry_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return dbError("requeue dead letter event", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return dbError("requeue dead letter event", err)
	}
	if rows == 1 {
		return nil
	}

	// Distinguish a missing row from one that is not terminal.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotTerminal.WithDetail("id", id)
}

func expectOne(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return dbError("read affected rows", err)
	}
	if rows == 0 {
		return ErrEventNotFound.WithDetail("id", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		ev                            Event
		webhookEventID, stack         sql.NullString
		nextRetry, leased, resolvedAt sql.NullTime
	)

	err := row.Scan(
		&ev.ID, &webhookEventID, &ev.Source, &ev.EventType, &ev.Payload, &ev.ErrorMessage, &ev.ErrorCode, &stack,
		&ev.Retryable, &ev.RetryCount, &nextRetry, &leased, &resolvedAt, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.WebhookEventID = webhookEventID.String
	ev.ErrorStack = stack.String
	ev.NextRetryAt = timePtr(nextRetry)
	ev.LeasedUntil = timePtr(leased)
	ev.ResolvedAt = timePtr(resolvedAt)
	return &ev, nil
}

func scanEvents(ctx context.Context, rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func dbError(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if tagged := apperrors.FromPostgres(err); tagged != nil {
		return tagged.WithDetail("operation", op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveDatabaseQuery("postgres", operation, time.Since(start), *err)
}
