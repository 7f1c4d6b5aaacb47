// Package metadata orchestrates document metadata extraction: fingerprint
// cache lookup, deduplicated calls to the analysis endpoint through the retry
// executor, write-through caching and degraded fallback results.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"docmeta/internal/infra/analyzer"
	"docmeta/internal/infra/cache"
	"docmeta/internal/observability/tracing"
	"docmeta/internal/resilience/retry"
)

// SampleRunes is how much of a document is analyzed and fingerprinted.
const SampleRunes = 4000

// Source tells where a Result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceAPI      Source = "api"
	SourceMock     Source = "mock"
	SourceFallback Source = "fallback"
	SourceEmpty    Source = "empty"
)

// Result is one extraction outcome.
type Result struct {
	Metadata analyzer.Metadata `json:"metadata"`
	Source   Source            `json:"source"`
	CacheKey string            `json:"cache_key,omitempty"`
	// Err is the endpoint failure behind a fallback result.
	Err error `json:"-"`
}

// Degraded reports whether the metadata is a fallback for a failed call.
func (r Result) Degraded() bool { return r.Source == SourceFallback }

// Stats combines the cache and executor snapshots.
type Stats struct {
	Cache cache.Stats `json:"cache"`
	Retry retry.Stats `json:"retry"`
}

// MetricsRecorder receives pipeline-level observations.
type MetricsRecorder interface {
	RecordExtraction(source string, d time.Duration)
	RecordFallback(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordExtraction(string, time.Duration) {}
func (noopMetrics) RecordFallback(string) {}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the pipeline metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracer replaces the global docmeta tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// Service extracts metadata for documents.
type Service struct {
	cache    *cache.FingerprintCache[analyzer.Metadata]
	executor *retry.Executor
	analyzer analyzer.Analyzer

	group   singleflight.Group
	metrics MetricsRecorder
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewService wires a cache, an executor and an analyzer together.
func NewService(c *cache.FingerprintCache[analyzer.Metadata], exec *retry.Executor, a analyzer.Analyzer, opts ...Option) *Service {
	s := &Service{
		cache:    c,
		executor: exec,
		analyzer: a,
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		tracer:   tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample returns the part of text that is analyzed: its first SampleRunes runes.
func Sample(text string) string {
	if utf8.RuneCountInString(text) <= SampleRunes {
		return text
	}
	return string([]rune(text)[:SampleRunes])
}

// Extract returns metadata for text. Endpoint failures never surface as an
// error: the result then carries fallback metadata and Result.Err. Only a
// cancelled or expired ctx makes Extract fail.
func (s *Service) Extract(ctx context.Context, text string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "metadata.Extract")
	defer span.End()
	start := time.Now()

	res, err := s.extract(ctx, text, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(attribute.String("result.source", string(res.Source)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	s.metrics.RecordExtraction(string(res.Source), time.Since(start))
	return res, nil
}

func (s *Service) extract(ctx context.Context, text string, span trace.Span) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	sample := Sample(text)
	if strings.TrimSpace(sample) == "" {
		return Result{Metadata: analyzer.EmptyMetadata(), Source: SourceEmpty}, nil
	}

	model := s.analyzer.Model()
	key := cache.Key(sample, model)
	if md, ok := s.cache.Get(ctx, sample, model); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return Result{Metadata: md, Source: SourceCache, CacheKey: key}, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if s.analyzer.Provider() == analyzer.ProviderMock {
		return Result{Metadata: analyzer.MockMetadata(sample), Source: SourceMock, CacheKey: key}, nil
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.analyze(ctx, sample, model)
	})
	if shared {
		span.SetAttributes(attribute.Bool("singleflight.shared", true))
	}
	if err == nil {
		return Result{Metadata: v.(analyzer.Metadata), Source: SourceAPI, CacheKey: key}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	reason := fallbackReason(err)
	s.metrics.RecordFallback(reason)
	s.logger.WarnContext(ctx, "analysis failed, using fallback metadata",
		slog.String("cache_key", key),
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return Result{Metadata: analyzer.MockMetadata(sample), Source: SourceFallback, CacheKey: key, Err: err}, nil
}

// analyze calls the endpoint through the executor and caches the result.
func (s *Service) analyze(ctx context.Context, sample, model string) (analyzer.Metadata, error) {
	md, err := retry.Do(ctx, s.executor, func(ctx context.Context) (analyzer.Metadata, error) {
		return s.analyzer.Analyze(ctx, sample)
	})
	if err != nil {
		return analyzer.Metadata{}, err
	}
	s.cache.Set(ctx, sample, model, md, map[string]any{"source": s.analyzer.Provider()})
	return md, nil
}

func fallbackReason(err error) string {
	if errors.Is(err, retry.ErrCircuitOpen) {
		return "circuit_open"
	}
	return retry.Classify(err).String()
}

// Stats returns the cache and executor statistics.
func (s *Service) Stats() Stats {
	return Stats{Cache: s.cache.Stats(), Retry: s.executor.Stats()}
}

// ClearCache removes every cached entry.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.ClearAll(ctx)
	s.logger.InfoContext(ctx, "cache cleared")
}

// SweepCache removes expired cache entries and returns how many were removed.
func (s *Service) SweepCache(ctx context.Context) int {
	return s.cache.SweepExpired(ctx)
}

// ResetCircuitBreaker closes the endpoint breaker.
func (s *Service) ResetCircuitBreaker() {
	s.executor.ResetCircuitBreaker()
}

// CacheInfo describes the cache entry text would map to.
func (s *Service) CacheInfo(text string) cache.Info {
	return s.cache.Info(Sample(text), s.analyzer.Model())
}
