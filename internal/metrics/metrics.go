// Package metrics holds the Prometheus instruments postbox exports.
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write outcomes recorded on store writes.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics holds all custom Prometheus metrics for postbox.
type Metrics struct {
	// Store metrics
	StoreReads   *prometheus.CounterVec
	StoreWrites  *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec

	// Lifecycle metrics
	Transitions *prometheus.CounterVec
	IngestItems *prometheus.CounterVec

	// Archive metrics
	Archived *prometheus.CounterVec
}

// New registers the postbox metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StoreReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_store_reads_total",
			Help: "Document reads by document kind",
		}, []string{"document"}),

		StoreWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_store_writes_total",
			Help: "Compare-and-swap document writes by document kind and result",
		}, []string{"document", "result"}),

		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postbox_store_request_duration_seconds",
			Help:    "Backend request latency in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_transitions_total",
			Help: "Lifecycle transitions by target collection and outcome",
		}, []string{"target", "outcome"}),

		IngestItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_ingest_items_total",
			Help: "Ingested items by outcome",
		}, []string{"outcome"}),

		Archived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postbox_archived_messages_total",
			Help: "Messages moved into archive batches by source collection",
		}, []string{"collection"}),
	}
}

func (m *Metrics) ObserveRead(document string) {
	if m == nil {
		return
	}
	m.StoreReads.WithLabelValues(document).Inc()
}

func (m *Metrics) ObserveWrite(document, result string) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(document, result).Inc()
}

func (m *Metrics) ObserveLatency(op string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveTransition(target, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) ObserveIngest(outcome string) {
	if m == nil {
		return
	}
	m.IngestItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveArchived(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Archived.WithLabelValues(collection).Add(float64(n))
}
