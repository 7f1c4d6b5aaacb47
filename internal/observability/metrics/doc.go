// Package metrics holds the pipeline-level Prometheus metrics of docmeta.
//
// Component metrics (cache, retry, analyzer) are built by their own packages
// against an injected prometheus.Registerer. The metrics here describe whole
// extractions and are registered with the default registry, which is what
// `docmeta -serve` exposes on /metrics.
//
// Example usage:
//
//	svc := metadata.NewService(c, exec, a, metadata.WithMetrics(metrics.Recorder{}))
package metrics
