package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())

	m.ObserveRequest("GET", "/books", 200, time.Millisecond)
	m.ObserveRequest("GET", "/books", 200, time.Millisecond)
	m.ReplicaWriteFailed("MONGO", "create")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/books", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replicaFailures.WithLabelValues("MONGO", "create")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reconciled.WithLabelValues("MONGO", "create")))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Second)
		m.ReplicaWriteFailed("MONGO", "delete")
		m.ReplicaReconciled("MONGO", "delete")
	})
}
