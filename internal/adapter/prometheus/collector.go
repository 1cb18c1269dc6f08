// Package prometheus exposes MedOrch state on a Prometheus scrape endpoint.
// Values are read from their owners at scrape time; nothing is duplicated.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/resilience"
)

// Sources supplies the values read on each scrape. Nil fields are skipped.
type Sources struct {
	AuditStats  func() memory.Stats
	Sessions    func() int
	CacheStats  func() (hits, misses uint64)
	Connections func() int
	Breakers    []*resilience.Breaker

	TriageSessions func() int
	EventsDropped  func() int64
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	queries      *prometheus.Desc
	successRate  *prometheus.Desc
	avgDuration  *prometheus.Desc
	sessions     *prometheus.Desc
	cacheHits    *prometheus.Desc
	cacheMisses  *prometheus.Desc
	connections  *prometheus.Desc
	breakerState *prometheus.Desc
	triage       *prometheus.Desc
	dropped      *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		queries: prometheus.NewDesc("medorch_audit_queries",
			"Orchestrations recorded in the default session's audit log, by outcome.",
			[]string{"outcome"}, nil),
		successRate: prometheus.NewDesc("medorch_audit_success_ratio",
			"Share of successful orchestrations in the default session's audit log.", nil, nil),
		avgDuration: prometheus.NewDesc("medorch_audit_avg_processing_seconds",
			"Mean orchestration time in the default session's audit log.", nil, nil),
		sessions: prometheus.NewDesc("medorch_sessions",
			"Live conversation sessions, including the default one.", nil, nil),
		cacheHits: prometheus.NewDesc("medorch_routing_cache_hits_total",
			"Routing cache hits.", nil, nil),
		cacheMisses: prometheus.NewDesc("medorch_routing_cache_misses_total",
			"Routing cache misses.", nil, nil),
		connections: prometheus.NewDesc("medorch_websocket_connections",
			"Connected WebSocket clients.", nil, nil),
		breakerState: prometheus.NewDesc("medorch_breaker_open",
			"1 when the backend's circuit breaker is open or half-open.", []string{"backend", "state"}, nil),
		triage: prometheus.NewDesc("medorch_triage_sessions",
			"Live triage interviews.", nil, nil),
		dropped: prometheus.NewDesc("medorch_events_dropped_total",
			"Events discarded because the delivery queue was full.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.successRate
	ch <- c.avgDuration
	ch <- c.sessions
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.connections
	ch <- c.breakerState
	ch <- c.triage
	ch <- c.dropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.AuditStats != nil {
		s := c.src.AuditStats()
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.GaugeValue, float64(s.Successful), "success")
		ch <- prometheus.MustNewConstMetric(c.queries, prometheus.GaugeValue, float64(s.Failed), "failure")
		ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, s.SuccessRate)
		ch <- prometheus.MustNewConstMetric(c.avgDuration, prometheus.GaugeValue, s.AvgProcessingTime)
	}
	if c.src.Sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(c.src.Sessions()))
	}
	if c.src.CacheStats != nil {
		hits, misses := c.src.CacheStats()
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(misses))
	}
	if c.src.Connections != nil {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(c.src.Connections()))
	}
	if c.src.TriageSessions != nil {
		ch <- prometheus.MustNewConstMetric(c.triage, prometheus.GaugeValue, float64(c.src.TriageSessions()))
	}
	if c.src.EventsDropped != nil {
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.src.EventsDropped()))
	}
	for _, b := range c.src.Breakers {
		if b == nil {
			continue
		}
		state := b.State()
		open := 0.0
		if state != resilience.StateClosed {
			open = 1
		}
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, open, b.Name(), string(state))
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
