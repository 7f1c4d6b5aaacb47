// Package tracing wires OpenTelemetry for docmeta.
//
// Setup installs an SDK tracer provider as the global provider. Code creates
// spans through Tracer():
//
//	shutdown := tracing.Setup()
//	defer shutdown(context.Background())
//
//	ctx, span := tracing.Tracer().Start(ctx, "metadata.Extract")
//	defer span.End()
//
// Middleware traces the admin HTTP endpoints served by `docmeta -serve`.
package tracing
