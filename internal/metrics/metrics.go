// Package metrics holds the Prometheus collectors exported by face-scan.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item resolution labels for ItemsResolvedTotal.
const (
	ResolutionCacheHit = "cache_hit"
	ResolutionDetected = "detected"
	ResolutionNoFace   = "no_face"
)

// =============================================================================
// Scan Metrics
// =============================================================================

var (
	// ScansTotal counts finished partition scans by terminal status
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facescan_scans_total",
			Help: "Total partition scans by terminal status",
		},
		[]string{"status"},
	)

	// ScanDurationSeconds measures wall time of one partition scan
	ScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facescan_scan_duration_seconds",
			Help:    "Duration of partition scans",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	// ItemsResolvedTotal counts items by how their feature was obtained
	ItemsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facescan_items_resolved_total",
			Help: "Candidate items resolved, by cache hit, detection or no face",
		},
		[]string{"resolution"},
	)

	DetectorErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "facescan_detector_errors_total",
			Help: "Detector calls that failed for reasons other than no face found",
		},
	)

	DetectorDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facescan_detector_duration_seconds",
			Help:    "Duration of landmark detector calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// =============================================================================
// Host Metrics
// =============================================================================

var (
	// ScanJobsActive is the number of scan jobs currently running in serve mode
	ScanJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "facescan_scan_jobs_active",
			Help: "Scan jobs currently running",
		},
	)

	// TemplatesPersistedTotal counts cache updates written to the template store
	TemplatesPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facescan_templates_persisted_total",
			Help: "Template writes by result",
		},
		[]string{"result"},
	)

	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facescan_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)
)
