package analyzer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives one observation per endpoint request.
type MetricsRecorder interface {
	// RecordRequest records the outcome ("success", "error", "parse_fallback")
	// and latency of a single request.
	RecordRequest(provider, result string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, string, time.Duration) {}

// PrometheusMetrics implements MetricsRecorder using Prometheus metrics.
type PrometheusMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the analyzer metrics with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_analysis_requests_total",
			Help: "Analysis endpoint requests by provider and result",
		}, []string{"provider", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmeta_analysis_request_duration_seconds",
			Help:    "Latency of a single analysis endpoint request",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
	}
}

// RecordRequest implements MetricsRecorder.
func (p *PrometheusMetrics) RecordRequest(provider, result string, d time.Duration) {
	p.requests.WithLabelValues(provider, result).Inc()
	p.duration.WithLabelValues(provider).Observe(d.Seconds())
}
