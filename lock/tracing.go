package lock

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("go-cqrskit/lock")

func spanAttrs(key string) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(attribute.String("lock.key", key))}
}
