// Package metrics exposes Prometheus counters and histograms mirroring the
// janitor's per-cycle counters, for ambient observability alongside the
// mandatory event/annotation protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resourcesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "janitor_resources_processed_total",
			Help: "Total number of resources evaluated across all cleanup cycles",
		},
	)

	resourcesDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janitor_resources_deleted_total",
			Help: "Total number of resources deleted, by kind and reason",
		},
		[]string{"kind", "reason"},
	)

	notificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janitor_notifications_sent_total",
			Help: "Total number of delete notifications sent, by kind",
		},
		[]string{"kind"},
	)

	cycleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janitor_cycle_errors_total",
			Help: "Total number of errors encountered during cleanup cycles, by stage",
		},
		[]string{"stage"},
	)

	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "janitor_cycle_duration_seconds",
			Help:    "Time taken to complete one cleanup cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	resourceKindsDiscoveredTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "janitor_resource_kinds_discovered_total",
			Help: "Number of resource kinds returned by the most recent discovery pass",
		},
	)
)

// RecordResourceProcessed increments the total resources-evaluated counter.
func RecordResourceProcessed() {
	resourcesProcessedTotal.Inc()
}

// RecordResourceDeleted records a resource deletion by kind and reason.
func RecordResourceDeleted(kind, reason string) {
	resourcesDeletedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordNotificationSent records a delete notification by kind.
func RecordNotificationSent(kind string) {
	notificationsSentTotal.WithLabelValues(kind).Inc()
}

// RecordCycleError records an error encountered at a named cycle stage.
func RecordCycleError(stage string) {
	cycleErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordCycleDuration records the wall-clock duration of a cleanup cycle.
func RecordCycleDuration(seconds float64) {
	cycleDurationSeconds.Observe(seconds)
}

// RecordResourceKindsDiscovered records how many resource kinds the most
// recent discovery pass returned.
func RecordResourceKindsDiscovered(count int) {
	resourceKindsDiscoveredTotal.Set(float64(count))
}
