// Package metrics provides Prometheus metrics for the collaboration layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collaboration layer.
type Metrics struct {
	PollsTotal       *prometheus.CounterVec
	PollDuration     prometheus.Histogram
	CallbacksTotal   *prometheus.CounterVec
	ActiveChannels   prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	LocksTotal       *prometheus.CounterVec
	StoreErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_polls_total",
				Help: "Total poll cycles by result.",
			},
			[]string{"result"},
		),
		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collab_poll_duration_seconds",
				Help:    "Poll cycle duration.",
				Buckets: prometheus.DefBuckets,
			},
		),
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_callbacks_total",
				Help: "Subscriber callbacks fired by kind.",
			},
			[]string{"kind"},
		),
		ActiveChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collab_active_channels",
				Help: "Number of subscribed project channels.",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "collab_active_sessions",
				Help: "Number of sessions with a running heartbeat.",
			},
		),
		LocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_lock_operations_total",
				Help: "File lock operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collab_store_errors_total",
				Help: "Record store failures by table.",
			},
			[]string{"table"},
		),
		registry: reg,
	}

	reg.MustRegister(m.PollsTotal)
	reg.MustRegister(m.PollDuration)
	reg.MustRegister(m.CallbacksTotal)
	reg.MustRegister(m.ActiveChannels)
	reg.MustRegister(m.ActiveSessions)
	reg.MustRegister(m.LocksTotal)
	reg.MustRegister(m.StoreErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPoll increments the poll counter.
func (m *Metrics) RecordPoll(result string) {
	m.PollsTotal.WithLabelValues(result).Inc()
}

// RecordCallback increments the callback counter.
func (m *Metrics) RecordCallback(kind string) {
	m.CallbacksTotal.WithLabelValues(kind).Inc()
}

// RecordLock increments the lock operation counter.
func (m *Metrics) RecordLock(op, result string) {
	m.LocksTotal.WithLabelValues(op, result).Inc()
}

// RecordStoreError increments the store error counter.
func (m *Metrics) RecordStoreError(table string) {
	m.StoreErrorsTotal.WithLabelValues(table).Inc()
}

// ObservePollDuration records a poll cycle duration.
func (m *Metrics) ObservePollDuration(seconds float64) {
	m.PollDuration.Observe(seconds)
}
