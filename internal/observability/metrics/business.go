package metrics

import "time"

// Recorder implements the metadata service metrics interface on top of the
// package-level collectors.
type Recorder struct{}

// RecordExtraction records a finished extraction.
func (Recorder) RecordExtraction(source string, d time.Duration) {
	ExtractionsTotal.WithLabelValues(source).Inc()
	ExtractionDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordFallback records an extraction that fell back to heuristic metadata.
func (Recorder) RecordFallback(reason string) {
	FallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordFileProcessed records the outcome of one CLI input file.
// Status should be "success", "degraded" or "failure".
func RecordFileProcessed(status string) {
	FilesProcessedTotal.WithLabelValues(status).Inc()
}

// RecordJanitorSweep records one scheduled sweep and how many entries it removed.
func RecordJanitorSweep(removed int) {
	JanitorSweepsTotal.Inc()
	if removed > 0 {
		JanitorRemovedTotal.Add(float64(removed))
	}
}
