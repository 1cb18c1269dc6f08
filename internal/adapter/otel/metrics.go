package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "medorch"

// Metrics holds all MedOrch metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	Orchestrations        metric.Int64Counter
	Emergencies           metric.Int64Counter
	SpecialistCalls       metric.Int64Counter
	RoutingCacheHits      metric.Int64Counter
	OrchestrationDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates all metric instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Orchestrations, err = meter.Int64Counter("medorch.orchestrations",
		metric.WithDescription("Number of orchestrations by execution mode and outcome"))
	if err != nil {
		return nil, err
	}

	m.Emergencies, err = meter.Int64Counter("medorch.emergencies",
		metric.WithDescription("Number of queries short-circuited as emergencies"))
	if err != nil {
		return nil, err
	}

	m.SpecialistCalls, err = meter.Int64Counter("medorch.specialist.calls",
		metric.WithDescription("Number of specialist invocations by agent and outcome"))
	if err != nil {
		return nil, err
	}

	m.RoutingCacheHits, err = meter.Int64Counter("medorch.routing.cache_hits",
		metric.WithDescription("Number of routing decisions served from cache"))
	if err != nil {
		return nil, err
	}

	m.OrchestrationDuration, err = meter.Float64Histogram("medorch.orchestration.duration_seconds",
		metric.WithDescription("Orchestration duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordOrchestration counts one finished orchestration and its latency.
func (m *Metrics) RecordOrchestration(ctx context.Context, mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.Orchestrations.Add(ctx, 1, attrs)
	m.OrchestrationDuration.Record(ctx, seconds, attrs)
	if outcome == "emergency" {
		m.Emergencies.Add(ctx, 1)
	}
}

// RecordSpecialistCall counts one specialist invocation.
func (m *Metrics) RecordSpecialistCall(ctx context.Context, agent string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.SpecialistCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheHit counts a routing decision served from cache.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.RoutingCacheHits.Add(ctx, 1)
}
