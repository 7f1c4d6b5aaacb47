package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionsTotal counts finished extractions by result source
	// (cache, api, mock, fallback, empty).
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmeta_extractions_total",
			Help: "Total number of metadata extractions by result source",
		},
		[]string{"source"},
	)

	// ExtractionDuration measures end-to-end extraction time.
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmeta_extraction_duration_seconds",
			Help:    "Duration of a metadata extraction including cache lookup and retries",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	// FallbacksTotal counts extractions that degraded to heuristic metadata,
	// by failure class of the last error.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmeta_extraction_fallbacks_total",
			Help: "Extractions answered with fallback metadata after the endpoint failed",
		},
		[]string{"reason"},
	)

	// FilesProcessedTotal counts files handled by the CLI by status.
	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmeta_files_processed_total",
			Help: "Files processed by the docmeta CLI",
		},
		[]string{"status"},
	)

	// JanitorSweepsTotal counts scheduled cache sweeps and JanitorRemovedTotal
	// the entries they removed.
	JanitorSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docmeta_janitor_sweeps_total",
			Help: "Scheduled cache sweeps run by the janitor",
		},
	)
	JanitorRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docmeta_janitor_removed_entries_total",
			Help: "Cache entries removed by scheduled sweeps",
		},
	)
)
