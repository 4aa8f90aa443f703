package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "runforge"

// StartRunSpan starts the span covering one Responses run.
func StartRunSpan(ctx context.Context, runID, tenantID, model string, storeFlag bool, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "responses.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("tenant_id", tenantID),
			attribute.String("model", model),
			attribute.Bool("store_flag", storeFlag),
			attribute.String("conversation_id", conversationID),
		),
	)
}

// AddEvent annotates a run span with one routed provider event.
func AddEvent(span trace.Span, eventType string, sequence int64) {
	span.AddEvent("provider.event", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int64("event.sequence", sequence),
	))
}

// Finalize sets the span status from the run's terminal state and ends it.
func Finalize(span trace.Span, status string) {
	if status == "completed" {
		span.SetStatus(codes.Ok, status)
	} else {
		span.SetStatus(codes.Error, status)
	}
	span.SetAttributes(attribute.String("run.status", status))
	span.End()
}
