// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A single instance is shared by the
// server and the streaming runner.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted  prometheus.Counter
	RunsDone     *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	ActiveRuns   prometheus.Gauge
	SSEClients   prometheus.Gauge
}

// Outcome labels for completed runs.
const (
	OutcomeComplete  = "complete"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hedged_runs_started_total",
			Help: "Analysis runs started.",
		}),
		RunsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedged_runs_done_total",
			Help: "Analysis runs finished, by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedged_run_duration_seconds",
			Help:    "Wall-clock duration of analysis runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hedged_active_runs",
			Help: "Analysis runs currently executing.",
		}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hedged_sse_clients",
			Help: "Connected event-stream clients.",
		}),
	}
	registry.MustRegister(m.RunsStarted, m.RunsDone, m.RunDuration, m.ActiveRuns, m.SSEClients)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
