package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "medorch"

// StartOrchestrateSpan starts a span covering one orchestration call.
func StartOrchestrateSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "orchestrate",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// StartRouteSpan starts a span for query routing.
func StartRouteSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "route")
}

// StartSpecialistSpan starts a span for one specialist invocation.
func StartSpecialistSpan(ctx context.Context, agent, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "specialist",
		trace.WithAttributes(
			attribute.String("specialist.name", agent),
			attribute.String("execution.mode", mode),
		),
	)
}

// StartSynthesisSpan starts a span for response synthesis.
func StartSynthesisSpan(ctx context.Context, responses int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "synthesize",
		trace.WithAttributes(attribute.Int("synthesis.responses", responses)),
	)
}
