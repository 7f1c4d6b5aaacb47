package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives cache events.
type MetricsRecorder interface {
	// RecordRequest records the outcome of a Get.
	RecordRequest(hit bool)

	// RecordEvictions records durable entries removed by a sweep.
	RecordEvictions(n int)

	// RecordDurableError records a swallowed durable-tier failure.
	RecordDurableError(op, kind string)

	// SetMemoryEntries reports the current size of the memory tier.
	SetMemoryEntries(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(bool) {}
func (noopMetrics) RecordEvictions(int) {}
func (noopMetrics) RecordDurableError(string, string) {}
func (noopMetrics) SetMemoryEntries(int) {}

// PrometheusMetrics implements MetricsRecorder with Prometheus collectors.
type PrometheusMetrics struct {
	requests      *prometheus.CounterVec
	evictions     prometheus.Counter
	durableErrors *prometheus.CounterVec
	memoryEntries prometheus.Gauge
}

// NewPrometheusMetrics registers the cache collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_cache_requests_total",
			Help: "Cache lookups by result (hit or miss)",
		}, []string{"result"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmeta_cache_evictions_total",
			Help: "Durable cache entries removed by expiry sweeps",
		}),
		durableErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_cache_durable_errors_total",
			Help: "Durable tier failures that degraded to a miss or no-op",
		}, []string{"op", "kind"}),
		memoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docmeta_cache_memory_entries",
			Help: "Entries currently held in the memory tier",
		}),
	}
}

// RecordRequest implements MetricsRecorder.RecordRequest
func (p *PrometheusMetrics) RecordRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.requests.WithLabelValues(result).Inc()
}

// RecordEvictions implements MetricsRecorder.RecordEvictions
func (p *PrometheusMetrics) RecordEvictions(n int) {
	if n > 0 {
		p.evictions.Add(float64(n))
	}
}

// RecordDurableError implements MetricsRecorder.RecordDurableError
func (p *PrometheusMetrics) RecordDurableError(op, kind string) {
	p.durableErrors.WithLabelValues(op, kind).Inc()
}

// SetMemoryEntries implements MetricsRecorder.SetMemoryEntries
func (p *PrometheusMetrics) SetMemoryEntries(n int) {
	p.memoryEntries.Set(float64(n))
}
