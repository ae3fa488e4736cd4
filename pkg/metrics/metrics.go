// Package metrics provides Prometheus metrics for duplicate detection and merging.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DetectionRunsTotal counts full detection scans by outcome
	DetectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "runs_total",
			Help:      "Total number of full duplicate detection runs by status",
		},
		[]string{"status"},
	)

	// DetectionRunDuration tracks full scan duration in seconds
	DetectionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "run_duration_seconds",
			Help:      "Duration of full duplicate detection runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// VenuesProcessedTotal counts venues scanned for duplicates
	VenuesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "venues_processed_total",
			Help:      "Total number of venues scanned for duplicates",
		},
	)

	// CandidatesStoredTotal counts newly stored candidate pairs
	CandidatesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "candidates_stored_total",
			Help:      "Total number of new duplicate candidate pairs stored",
		},
	)

	// SyncTransitionsTotal counts candidate status transitions applied by log sync
	SyncTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "detection",
			Name:      "sync_transitions_total",
			Help:      "Total number of candidate status transitions applied from merge logs",
		},
		[]string{"status"},
	)

	// MergesTotal counts merge attempts by status and failing step
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "merges_total",
			Help:      "Total number of venue merges by status",
		},
		[]string{"status", "step"},
	)

	// MergeDuration tracks merge duration in seconds
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Duration of venue merges in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// EventsMigratedTotal counts events moved or discarded by merges
	EventsMigratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "events_total",
			Help:      "Total number of secondary venue events handled by merges",
		},
		[]string{"outcome"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// LockAcquisitionsTotal counts merge lock attempts by outcome
	LockAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "redis",
			Name:      "lock_acquisitions_total",
			Help:      "Total number of venue merge lock attempts by outcome",
		},
		[]string{"outcome"},
	)

	// HTTPRequestDuration tracks admin API latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of admin API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordDetectionRun records a completed or failed full scan.
func RecordDetectionRun(status string, durationSeconds float64) {
	DetectionRunsTotal.WithLabelValues(status).Inc()
	DetectionRunDuration.Observe(durationSeconds)
}

// RecordVenueProcessed records one scanned venue and the pairs it stored.
func RecordVenueProcessed(stored int) {
	VenuesProcessedTotal.Inc()
	CandidatesStoredTotal.Add(float64(stored))
}

// RecordSync records status transitions applied by a log sync.
func RecordSync(merged, rejected int) {
	SyncTransitionsTotal.WithLabelValues("merged").Add(float64(merged))
	SyncTransitionsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// RecordMerge records a merge outcome. step is empty on success.
func RecordMerge(status, step string, durationSeconds float64) {
	MergesTotal.WithLabelValues(status, step).Inc()
	MergeDuration.Observe(durationSeconds)
}

// RecordMergedEvents records how a merge disposed of the secondary's events.
func RecordMergedEvents(migrated, deleted int) {
	EventsMigratedTotal.WithLabelValues("migrated").Add(float64(migrated))
	EventsMigratedTotal.WithLabelValues("conflict_deleted").Add(float64(deleted))
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordLock records a merge lock attempt.
func RecordLock(outcome string) {
	LockAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served request. route is the registered path, not the raw URI.
func RecordHTTPRequest(method, route string, status int, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(durationSeconds)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
