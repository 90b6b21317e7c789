package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

const claimConstraint = "ux_inbound_events_claim"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, ev *InboundEvent) (err error) {
	defer observe("insert", time.Now(), &err)

	outcome, err := marshalOutcome(ev.Outcome)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO inbound_events (
			request_id, webhook_id, source, event_type, payload_hash, payload_size, raw_payload,
			ip_address, user_agent, signature_valid, webhook_timestamp,
			status, received_at, processed_at, processing_duration_ms, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = s.db.ExecContext(ctx, query,
		ev.RequestID, ev.WebhookID, ev.Source, nullString(ev.EventType), ev.PayloadHash, ev.PayloadSize, ev.RawPayload,
		nullString(ev.IPAddress), nullString(ev.UserAgent), ev.SignatureValid, ev.WebhookTimestamp,
		string(ev.Status), ev.ReceivedAt, ev.ProcessedAt, ev.ProcessingDurationMs, outcome,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == claimConstraint {
			return ErrAlreadyClaimed.WithCause(err)
		}
		return dbError("insert inbound event", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) (updated bool, err error) {
	defer observe("update_status", time.Now(), &err)

	outcome, err := marshalOutcome(upd.Outcome)
	if err != nil {
		return false, err
	}

	// raw_payload is only needed while the row can still be dead-lettered.
	query := `
		UPDATE inbound_events
		SET status = $2,
			processed_at = $3,
			processing_duration_ms = $4,
			outcome = COALESCE($5, outcome),
			error_code = $6,
			error_message = $7,
			raw_payload = CASE WHEN $2 = 'failed' THEN raw_payload ELSE NULL END
		WHERE request_id = $1 AND status = 'processing'
	`

	res, err := s.db.ExecContext(ctx, query,
		requestID, string(upd.Status), upd.ProcessedAt, upd.Duration.Milliseconds(), outcome,
		nullString(upd.ErrorCode), nullString(apperrors.Truncate(upd.ErrorMessage)),
	)
	if err != nil {
		return false, dbError("update inbound event status", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, dbError("update inbound event status", err)
	}
	return rows == 1, nil
}

const selectColumns = `
	request_id, webhook_id, source, event_type, payload_hash, payload_size, raw_payload,
	ip_address, user_agent, signature_valid, webhook_timestamp,
	status, received_at, processed_at, processing_duration_ms, outcome, error_code, error_message
`

func (s *PostgresStore) GetByRequestID(ctx context.Context, requestID string) (ev *InboundEvent, err error) {
	defer observe("get", time.Now(), &err)

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM inbound_events WHERE request_id = $1`, requestID)
	ev, err = scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound.WithDetail("request_id", requestID)
	}
	if err != nil {
		return nil, dbError("get inbound event", err)
	}
	return ev, nil
}

func (s *PostgresStore) HasSucceeded(ctx context.Context, source, webhookID string) (found bool, err error) {
	defer observe("has_succeeded", time.Now(), &err)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM inbound_events
			WHERE source = $1 AND webhook_id = $2 AND status = 'success'
		)
	`
	if err = s.db.QueryRowContext(ctx, query, source, webhookID).Scan(&found); err != nil {
		return false, dbError("check webhook id", err)
	}
	return found, nil
}

func (s *PostgresStore) HasSucceededByHash(ctx context.Context, source, payloadHash string, since time.Time) (found bool, err error) {
	defer observe("has_succeeded_by_hash", time.Now(), &err)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM inbound_events
			WHERE source = $1 AND payload_hash = $2 AND status = 'success' AND processed_at >= $3
		)
	`
	if err = s.db.QueryRowContext(ctx, query, source, payloadHash, since).Scan(&found); err != nil {
		return false, dbError("check payload hash", err)
	}
	return found, nil
}

func (s *PostgresStore) ListStuck(ctx context.Context, olderThan time.Time, limit int) (events []*InboundEvent, err error) {
	defer observe("list_stuck", time.Now(), &err)

	query := `SELECT ` + selectColumns + `
		FROM inbound_events
		WHERE status = 'processing' AND received_at < $1
		ORDER BY received_at
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, dbError("list stuck events", err)
	}
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		ev, err := scanEvent(rows)
		if err != nil {
			return nil, dbError("scan stuck event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list stuck events", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*InboundEvent, error) {
	var (
		ev                                         InboundEvent
		eventType, ip, ua, errorCode, errorMessage sql.NullString
		webhookTS, processedAt                     sql.NullTime
		durationMs                                 sql.NullInt64
		status                                     string
		outcome                                    []byte
	)

	err := row.Scan(
		&ev.RequestID, &ev.WebhookID, &ev.Source, &eventType, &ev.PayloadHash, &ev.PayloadSize, &ev.RawPayload,
		&ip, &ua, &ev.SignatureValid, &webhookTS,
		&status, &ev.ReceivedAt, &processedAt, &durationMs, &outcome, &errorCode, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	ev.EventType = eventType.String
	ev.IPAddress = ip.String
	ev.UserAgent = ua.String
	ev.Status = Status(status)
	ev.ErrorCode = errorCode.String
	ev.ErrorMessage = errorMessage.String
	if webhookTS.Valid {
		t := webhookTS.Time
		ev.WebhookTimestamp = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		ev.ProcessedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		ev.ProcessingDurationMs = &d
	}
	if len(outcome) > 0 {
		if err := json.Unmarshal(outcome, &ev.Outcome); err != nil {
			return nil, fmt.Errorf("failed to decode outcome: %w", err)
		}
	}
	return &ev, nil
}

func marshalOutcome(o Outcome) (sql.NullString, error) {
	if len(o) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode outcome: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dbError tags driver errors so the DLQ can classify them.
func dbError(op string, err error) error {
	if tagged := apperrors.FromPostgres(err); tagged != nil {
		return tagged.WithDetail("operation", op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveDatabaseQuery("postgres", operation, time.Since(start), *err)
}
