// Package observability groups the logging, metrics and tracing setup shared
// by docmeta commands.
//
// Subpackages:
//   - logging: slog JSON and tint text loggers, context helpers
//   - metrics: pipeline-level Prometheus collectors
//   - tracing: OpenTelemetry provider setup and HTTP middleware
package observability
