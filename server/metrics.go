package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-command request counters and latency histograms
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates and registers the dispatch metrics. A nil
// registerer leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sable_requests_total",
			Help: "Number of served commands",
		}, []string{"cmd"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sable_request_duration_seconds",
			Help:    "Command dispatch latency",
			Buckets: prometheus.ExponentialBuckets(0.000025, 4, 10),
		}, []string{"cmd"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

// RecordCmd counts one dispatch of cmd with its latency in seconds
func (m *Metrics) RecordCmd(cmd string, seconds float64) {
	m.requests.WithLabelValues(cmd).Inc()
	m.latency.WithLabelValues(cmd).Observe(seconds)
}
