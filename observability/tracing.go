package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dnlfm/done"

// Tracer provides OpenTelemetry tracing for done.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new done tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, messageID string, retried int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "done.delivery",
		trace.WithAttributes(
			attribute.String("done.message_id", messageID),
			attribute.Int("done.retried", retried),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("done.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("done.error", err))
	}
	span.End()
}
