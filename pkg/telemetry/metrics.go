// Package telemetry exposes the gateway's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's instrument set. Use New to register against a
// fresh registry; a single instance is shared across the aggregator and
// router.
type Metrics struct {
	registry *prometheus.Registry

	// InvocationsTotal counts single-server tool invocations by backend and
	// outcome ("ok" or "error").
	InvocationsTotal *prometheus.CounterVec

	// BroadcastsTotal counts broadcast invocations.
	BroadcastsTotal prometheus.Counter

	// BroadcastFanout observes how many servers each broadcast targeted.
	BroadcastFanout prometheus.Histogram

	// UpstreamLatency observes per-backend call latency in seconds.
	UpstreamLatency *prometheus.HistogramVec
}

// New creates and registers the gateway metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_invocations_total",
			Help: "Tool invocations routed to a single backend server.",
		}, []string{"server", "outcome"}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "toolgate_broadcasts_total",
			Help: "Broadcast tool invocations.",
		}),
		BroadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "toolgate_broadcast_fanout",
			Help:    "Number of backend servers targeted per broadcast.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_upstream_latency_seconds",
			Help:    "Latency of backend MCP calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
	}
}

// RecordInvocation records a single-server tool call outcome.
func (m *Metrics) RecordInvocation(server string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.InvocationsTotal.WithLabelValues(server, outcome).Inc()
}

// RecordUpstreamLatency records the duration of one backend call.
func (m *Metrics) RecordUpstreamLatency(server string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(server).Observe(seconds)
}

// RecordBroadcast records one broadcast and its fan-out width.
func (m *Metrics) RecordBroadcast(fanout int) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
	m.BroadcastFanout.Observe(float64(fanout))
}

// Handler returns the scrape endpoint handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
