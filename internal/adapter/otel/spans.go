package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "imageforge"

// StartSubmitSpan starts a span for a provider submission attempt.
func StartSubmitSpan(ctx context.Context, taskID, providerName string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "submit",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("provider.name", providerName),
			attribute.Int("submit.attempt", attempt),
		),
	)
}

// StartPollSpan starts a span for a provider status poll.
func StartPollSpan(ctx context.Context, taskID, providerName, handle string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "poll",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("provider.name", providerName),
			attribute.String("provider.handle", handle),
		),
	)
}

// StartNotifySpan starts a span for an outbound webhook delivery.
func StartNotifySpan(ctx context.Context, taskID, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "notify",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("notify.url", url),
		),
	)
}
