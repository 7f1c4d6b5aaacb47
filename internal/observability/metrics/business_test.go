package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramSamples(t *testing.T, source string) uint64 {
	t.Helper()
	h, ok := ExtractionDuration.WithLabelValues(source).(prometheus.Histogram)
	require.True(t, ok)
	m := &dto.Metric{}
	require.NoError(t, h.Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestRecorder_RecordExtraction(t *testing.T) {
	before := testutil.ToFloat64(ExtractionsTotal.WithLabelValues("cache"))

	Recorder{}.RecordExtraction("cache", 5*time.Millisecond)
	Recorder{}.RecordExtraction("cache", time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(ExtractionsTotal.WithLabelValues("cache")))
}

func TestRecorder_RecordExtraction_ObservesDuration(t *testing.T) {
	before := histogramSamples(t, "api")

	Recorder{}.RecordExtraction("api", 250*time.Millisecond)

	assert.Equal(t, before+1, histogramSamples(t, "api"))
}

func TestRecorder_RecordFallback(t *testing.T) {
	before := testutil.ToFloat64(FallbacksTotal.WithLabelValues("circuit_open"))

	Recorder{}.RecordFallback("circuit_open")

	assert.Equal(t, before+1, testutil.ToFloat64(FallbacksTotal.WithLabelValues("circuit_open")))
}

func TestRecordFileProcessed(t *testing.T) {
	tests := []string{"success", "degraded", "failure"}
	for _, status := range tests {
		t.Run(status, func(t *testing.T) {
			before := testutil.ToFloat64(FilesProcessedTotal.WithLabelValues(status))
			RecordFileProcessed(status)
			assert.Equal(t, before+1, testutil.ToFloat64(FilesProcessedTotal.WithLabelValues(status)))
		})
	}
}

func TestRecordJanitorSweep(t *testing.T) {
	sweeps := testutil.ToFloat64(JanitorSweepsTotal)
	removed := testutil.ToFloat64(JanitorRemovedTotal)

	RecordJanitorSweep(0)
	RecordJanitorSweep(3)

	assert.Equal(t, sweeps+2, testutil.ToFloat64(JanitorSweepsTotal))
	assert.Equal(t, removed+3, testutil.ToFloat64(JanitorRemovedTotal))
}
