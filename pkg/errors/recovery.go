package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a fatal internal error
// carrying the stack trace. Panicking business code is not retried.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}

// StackTrace returns the recorded stack trace of a recovered panic, if any.
func StackTrace(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr == nil {
		return ""
	}
	st, _ := appErr.Details["stack_trace"].(string)
	return st
}
