package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header names set on every forwarded message alongside the trace context.
const (
	HeaderRequestID = "x-request-id"
	HeaderSource    = "x-webhook-source"
)

// MessageHeaders builds the Kafka headers for a forwarded webhook: the
// request id and source, so consumers can join back to the ledger, plus the
// W3C trace context of ctx when a span is active.
func MessageHeaders(ctx context.Context, requestID, source string) []kafka.Header {
	headers := make([]kafka.Header, 0, 4)
	if requestID != "" {
		headers = append(headers, kafka.Header{Key: HeaderRequestID, Value: []byte(requestID)})
	}
	if source != "" {
		headers = append(headers, kafka.Header{Key: HeaderSource, Value: []byte(source)})
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}
