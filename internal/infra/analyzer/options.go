package analyzer

import (
	"log/slog"
	"net/http"
)

type options struct {
	httpClient *http.Client
	metrics    MetricsRecorder
	logger     *slog.Logger
}

// Option configures a remote analyzer.
type Option func(*options)

// WithHTTPClient replaces the HTTP client built from Config.HTTPTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics sets the request metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(cfg Config, opts []Option) options {
	o := options{metrics: noopMetrics{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
