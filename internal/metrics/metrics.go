// Package metrics exposes the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "books"

type Metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	replicaFailures *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of handled HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		replicaFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_write_failures_total",
			Help:      "Replica writes that failed after retries and left the backends diverged.",
		}, []string{"backend", "op"}),
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_reconciled_total",
			Help:      "Diverged replica records repaired by the reconciler.",
		}, []string{"backend", "op"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ReplicaWriteFailed(backend, op string) {
	if m == nil {
		return
	}

	m.replicaFailures.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) ReplicaReconciled(backend, op string) {
	if m == nil {
		return
	}

	m.reconciled.WithLabelValues(backend, op).Inc()
}
