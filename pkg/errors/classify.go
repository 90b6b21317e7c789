package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
)

const maxMessageLength = 1000

// Classify maps any error onto the closed taxonomy. Tagged errors keep their
// variant; untagged errors are resolved by type, never by message text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrProcessingTimeout.WithCause(err)
	}

	if dbErr := FromPostgres(err); dbErr != nil {
		return dbErr
	}

	if dbErr := FromMongo(err); dbErr != nil {
		return dbErr
	}

	return ErrUnknown.WithCause(err)
}

// FromPostgres tags errors returned by database/sql with lib/pq. It returns
// nil when err does not come from the database layer.
func FromPostgres(err error) *Error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return ErrDBDuplicateKey.WithCause(err).WithDetail("constraint", pqErr.Constraint)
		case pqErr.Code.Class() == "23":
			return ErrDBConstraintViolation.WithCause(err).WithDetail("constraint", pqErr.Constraint)
		case pqErr.Code == "57014":
			return ErrDBTimeout.WithCause(err)
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			return ErrDBConnection.WithCause(err)
		}
		return nil
	}

	if errors.Is(err, driver.ErrBadConn) {
		return ErrDBConnection.WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrDBTimeout.WithCause(err)
		}
		return ErrDBConnection.WithCause(err)
	}

	return nil
}

// FromMongo tags errors returned by the MongoDB driver. It returns nil when
// err is not a recognised driver failure.
func FromMongo(err error) *Error {
	if err == nil {
		return nil
	}

	switch {
	case mongo.IsDuplicateKeyError(err):
		return ErrDBDuplicateKey.WithCause(err)
	case mongo.IsTimeout(err):
		return ErrDBTimeout.WithCause(err)
	case mongo.IsNetworkError(err):
		return ErrDBConnection.WithCause(err)
	}
	return nil
}

// Truncate bounds an error message before it is persisted.
func Truncate(msg string) string {
	if len(msg) <= maxMessageLength {
		return msg
	}
	return msg[:maxMessageLength-3] + "..."
}
