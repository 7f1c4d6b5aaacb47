// Package logging builds the process logger and carries loggers and request
// ids through a context.
//
// The default output is JSON. LOG_FORMAT=text switches to a colored
// human-readable handler (lmittmann/tint) for local runs.
//
// Example usage:
//
//	logger := logging.New(logging.Options{Format: "text", Level: "debug"})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, uuid.NewString())
//	logging.FromContext(ctx).Info("analyzing file")
package logging
