package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRead("pending")
	m.ObserveRead("pending")
	m.ObserveWrite("pending", ResultConflict)
	m.ObserveTransition("approved", "committed")
	m.ObserveIngest("created")
	m.ObserveArchived("published", 3)
	m.ObserveArchived("published", 0)
	m.ObserveLatency("get", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreReads.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("pending", ResultConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("approved", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestItems.WithLabelValues("created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Archived.WithLabelValues("published")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRead("x")
		m.ObserveWrite("x", ResultOK)
		m.ObserveLatency("get", time.Now())
		m.ObserveTransition("x", "y")
		m.ObserveIngest("created")
		m.ObserveArchived("x", 1)
	})
}
