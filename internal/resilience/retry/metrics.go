package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives executor events.
type MetricsRecorder interface {
	// RecordCall records the outcome of one invocation of the wrapped call.
	RecordCall(success bool)

	// RecordRetry records a scheduled retry and its backoff delay.
	RecordRetry(delay time.Duration)

	// RecordCircuitRejection records an attempt rejected by the breaker.
	RecordCircuitRejection()
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(bool) {}
func (noopMetrics) RecordRetry(time.Duration) {}
func (noopMetrics) RecordCircuitRejection() {}

// PrometheusMetrics implements MetricsRecorder.
type PrometheusMetrics struct {
	calls      *prometheus.CounterVec
	retries    prometheus.Counter
	rejections prometheus.Counter
	backoff    prometheus.Histogram
}

// NewPrometheusMetrics registers the executor metrics with reg.
// Passing the same registerer twice panics, so build one recorder per process.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_retry_calls_total",
			Help: "Invocations of the wrapped call by outcome",
		}, []string{"result"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmeta_retry_retries_total",
			Help: "Retries scheduled after a retryable failure",
		}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmeta_retry_circuit_rejections_total",
			Help: "Attempts rejected because the circuit breaker was open",
		}),
		backoff: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docmeta_retry_backoff_seconds",
			Help:    "Backoff delay before a retry",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// RecordCall implements MetricsRecorder.RecordCall
func (p *PrometheusMetrics) RecordCall(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.calls.WithLabelValues(result).Inc()
}

// RecordRetry implements MetricsRecorder.RecordRetry
func (p *PrometheusMetrics) RecordRetry(delay time.Duration) {
	p.retries.Inc()
	p.backoff.Observe(delay.Seconds())
}

// RecordCircuitRejection implements MetricsRecorder.RecordCircuitRejection
func (p *PrometheusMetrics) RecordCircuitRejection() {
	p.rejections.Inc()
}
