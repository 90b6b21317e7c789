package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Category groups error codes for alerting and DLQ triage.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryValidation     Category = "validation"
	CategoryDatabase       Category = "database"
	CategoryBusiness       Category = "business"
	CategoryExternal       Category = "external"
	CategoryInternal       Category = "internal"
)

var (
	ErrNotFound     = NewError("NOT_FOUND", "resource not found", http.StatusNotFound).in(CategoryBusiness).fatal()
	ErrValidation   = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest).in(CategoryValidation).fatal()
	ErrInternal     = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError).in(CategoryInternal)
	ErrConflict     = NewError("CONFLICT", "resource conflict", http.StatusConflict).in(CategoryBusiness).fatal()
	ErrUnauthorized = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized).in(CategoryAuthentication).fatal()

	ErrInvalidSignature       = NewError("INVALID_SIGNATURE", "invalid webhook signature", http.StatusUnauthorized).in(CategoryAuthentication).fatal()
	ErrMissingSignature       = NewError("MISSING_SIGNATURE", "missing webhook signature header", http.StatusUnauthorized).in(CategoryAuthentication).fatal()
	ErrSignatureMisconfigured = NewError("SIGNATURE_MISCONFIGURED", "webhook secret is not configured", http.StatusInternalServerError).in(CategoryAuthentication).fatal()
	ErrExpiredToken           = NewError("EXPIRED_TOKEN", "webhook timestamp outside tolerance", http.StatusUnauthorized).in(CategoryAuthentication).fatal()

	ErrRateLimited = NewError("RATE_LIMITED", "rate limit exceeded", http.StatusTooManyRequests).in(CategoryRateLimit).retryableAs(true)
	ErrNonceUsed   = NewError("NONCE_USED", "event id already used", http.StatusConflict).in(CategoryRateLimit).fatal()

	ErrInvalidEmail         = NewError("INVALID_EMAIL", "invalid email address", http.StatusBadRequest).in(CategoryValidation).fatal()
	ErrInvalidCountryCode   = NewError("INVALID_COUNTRY_CODE", "invalid country code", http.StatusBadRequest).in(CategoryValidation).fatal()
	ErrMissingRequiredField = NewError("MISSING_REQUIRED_FIELD", "missing required field", http.StatusBadRequest).in(CategoryValidation).fatal()
	ErrInvalidPayload       = NewError("INVALID_PAYLOAD", "malformed webhook payload", http.StatusBadRequest).in(CategoryValidation).fatal()
	ErrPayloadTooLarge      = NewError("PAYLOAD_TOO_LARGE", "payload too large", http.StatusRequestEntityTooLarge).in(CategoryValidation).fatal()

	ErrDBConnection          = NewError("DB_CONNECTION_ERROR", "database connection error", http.StatusServiceUnavailable).in(CategoryDatabase).retryableAs(true)
	ErrDBTimeout             = NewError("DB_TIMEOUT", "database timeout", http.StatusServiceUnavailable).in(CategoryDatabase).retryableAs(true)
	ErrDBConstraintViolation = NewError("DB_CONSTRAINT_VIOLATION", "database constraint violation", http.StatusUnprocessableEntity).in(CategoryDatabase).fatal()
	ErrDBDuplicateKey        = NewError("DB_DUPLICATE_KEY", "duplicate key", http.StatusConflict).in(CategoryDatabase).fatal()

	ErrContactNotFound      = NewError("CONTACT_NOT_FOUND", "contact not found", http.StatusUnprocessableEntity).in(CategoryBusiness).fatal()
	ErrDuplicateTransaction = NewError("DUPLICATE_TRANSACTION", "duplicate transaction", http.StatusConflict).in(CategoryBusiness).fatal()

	ErrExternalTimeout = NewError("EXTERNAL_API_TIMEOUT", "upstream API timeout", http.StatusServiceUnavailable).in(CategoryExternal).retryableAs(true)
	ErrExternalAPI     = NewError("EXTERNAL_API_ERROR", "upstream API error", http.StatusBadGateway).in(CategoryExternal).retryableAs(true)

	ErrProcessingTimeout = NewError("PROCESSING_TIMEOUT", "processing timed out", http.StatusServiceUnavailable).in(CategoryInternal).retryableAs(true)
	ErrUnknown           = NewError("UNKNOWN_ERROR", "unclassified error", http.StatusInternalServerError).in(CategoryInternal).retryableAs(true)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Category  Category
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Status:   status,
		Category: CategoryInternal,
		Details:  make(map[string]interface{}),
	}
}

func (e *Error) in(category Category) *Error {
	e.Category = category
	return e
}

func (e *Error) retryableAs(v bool) *Error {
	e.retryable = &v
	return e
}

func (e *Error) fatal() *Error {
	return e.retryableAs(false)
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so sentinels work with errors.Is
// after WithCause/WithDetail copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	err.Details = copyDetails(e.Details)
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = copyDetails(e.Details)
	err.Details[key] = value
	return &err
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

// PublicMessage is the message safe to return to webhook senders.
func (e *Error) PublicMessage() string {
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return msg
	}
	return e.Message
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON error body returned by the admin API.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.PublicMessage(),
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		details := copyDetails(appErr.Details)
		delete(details, "message")
		delete(details, "stack_trace")
		if len(details) > 0 {
			response["details"] = details
		}
	}

	return response
}
