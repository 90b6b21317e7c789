package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

// Correlation field names, shared by log lines and the JSON error bodies.
const (
	TraceIDKey     = "trace_id"
	RequestIDKey   = "request_id"
	SourceKey      = "source"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ctxKey(SourceKey), source)
}

func value(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey(key)).(string)
	return v
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, RequestIDKey)
}

func GetSource(ctx context.Context) string {
	return value(ctx, SourceKey)
}

// GetTraceID returns the id of the span active on ctx, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// GetLogFields returns the correlation fields of ctx as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)
	if v := GetTraceID(ctx); v != "" {
		fields = append(fields, TraceIDKey, v)
	}
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, RequestIDKey, v)
	}
	if v := GetSource(ctx); v != "" {
		fields = append(fields, SourceKey, v)
	}
	return fields
}
