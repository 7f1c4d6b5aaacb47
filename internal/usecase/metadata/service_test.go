package metadata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"docmeta/internal/infra/analyzer"
	"docmeta/internal/infra/cache"
	"docmeta/internal/resilience/retry"
)

/* ───────── fixtures ───────── */

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAnalyzer struct {
	provider string
	calls    atomic.Int32

	mu       sync.Mutex
	lastText string
	fn       func(ctx context.Context, text string) (analyzer.Metadata, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (analyzer.Metadata, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastText = text
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, text)
}

func (f *fakeAnalyzer) Model() string { return "fake-model" }

func (f *fakeAnalyzer) Provider() string {
	if f.provider == "" {
		return analyzer.ProviderDeepSeek
	}
	return f.provider
}

func succeeding(abstract string) func(context.Context, string) (analyzer.Metadata, error) {
	return func(context.Context, string) (analyzer.Metadata, error) {
		md := analyzer.EmptyMetadata()
		md.Abstract = abstract
		md.ConfidenceScore = 0.9
		return md, nil
	}
}

func failing(err error) func(context.Context, string) (analyzer.Metadata, error) {
	return func(context.Context, string) (analyzer.Metadata, error) {
		return analyzer.Metadata{}, err
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	extractions map[string]int
	fallbacks   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{extractions: map[string]int{}, fallbacks: map[string]int{}}
}

func (m *recordingMetrics) RecordExtraction(source string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[source]++
}

func (m *recordingMetrics) RecordFallback(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[reason]++
}

type fixture struct {
	svc      *Service
	analyzer *fakeAnalyzer
	cache    *cache.FingerprintCache[analyzer.Metadata]
	exec     *retry.Executor
	metrics  *recordingMetrics
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, a *fakeAnalyzer, mutate func(*retry.Config)) *fixture {
	t.Helper()

	c, err := cache.New[analyzer.Metadata](cache.Config{
		Enabled:   true,
		Dir:       "/cache",
		MaxSizeMB: 10,
		TTL:       time.Hour,
	}, cache.WithFs(afero.NewMemMapFs()), cache.WithLogger(quietLogger()))
	require.NoError(t, err)

	cfg := retry.DefaultConfig()
	cfg.RequestTimeout = 0
	if mutate != nil {
		mutate(&cfg)
	}
	exec := retry.NewExecutor(cfg,
		retry.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		retry.WithLogger(quietLogger()))

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := newRecordingMetrics()

	svc := NewService(c, exec, a,
		WithLogger(quietLogger()),
		WithMetrics(m),
		WithTracer(tp.Tracer("test")))

	return &fixture{svc: svc, analyzer: a, cache: c, exec: exec, metrics: m, spans: sr}
}

func spanAttrs(t *testing.T, sr *tracetest.SpanRecorder) map[attribute.Key]attribute.Value {
	t.Helper()
	ended := sr.Ended()
	require.NotEmpty(t, ended)
	last := ended[len(ended)-1]
	assert.Equal(t, "metadata.Extract", last.Name())
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range last.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

const doc = "本研究基于深度学习方法构建模型。实验步骤包括数据采集。结果表明方法有效。"

/* ───────── happy path ───────── */

func TestExtract_MissThenHit(t *testing.T) {
	// Arrange
	f := newFixture(t, &fakeAnalyzer{fn: succeeding("remote abstract")}, nil)
	ctx := context.Background()

	// Act
	first, err := f.svc.Extract(ctx, doc)
	require.NoError(t, err)
	second, err := f.svc.Extract(ctx, doc)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, SourceAPI, first.Source)
	assert.Equal(t, "remote abstract", first.Metadata.Abstract)
	assert.Equal(t, cache.Key(doc, "fake-model"), first.CacheKey)
	assert.NoError(t, first.Err)

	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Metadata, second.Metadata)
	assert.Equal(t, int32(1), f.analyzer.calls.Load())

	stats := f.svc.Stats()
	assert.Equal(t, int64(2), stats.Cache.TotalRequests)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, 1, stats.Cache.CacheFilesCount)
	assert.Equal(t, int64(1), stats.Retry.SuccessfulCalls)

	info := f.svc.CacheInfo(doc)
	assert.True(t, info.Exists)
	assert.True(t, info.Valid)

	attrs := spanAttrs(t, f.spans)
	assert.True(t, attrs["cache.hit"].AsBool())
	assert.Equal(t, "cache", attrs["result.source"].AsString())
	assert.Equal(t, 1, f.metrics.extractions["api"])
	assert.Equal(t, 1, f.metrics.extractions["cache"])
}

func TestExtract_SampleIsTruncated(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeeding("x")}, nil)
	long := strings.Repeat("字", SampleRunes+1000)

	res, err := f.svc.Extract(context.Background(), long)

	require.NoError(t, err)
	assert.Equal(t, SourceAPI, res.Source)
	assert.Equal(t, SampleRunes, len([]rune(f.analyzer.lastText)))
	assert.Equal(t, cache.Key(strings.Repeat("字", SampleRunes), "fake-model"), res.CacheKey)
}

func TestSample(t *testing.T) {
	assert.Equal(t, "short", Sample("short"))
	assert.Equal(t, SampleRunes, len([]rune(Sample(strings.Repeat("é", SampleRunes+1)))))
}

func TestExtract_BlankText(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeeding("unused")}, nil)

	res, err := f.svc.Extract(context.Background(), "  \n\t ")

	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)
	assert.Zero(t, res.Metadata.ConfidenceScore)
	assert.NotNil(t, res.Metadata.Keywords)
	assert.Zero(t, f.analyzer.calls.Load())
	assert.Zero(t, f.svc.Stats().Cache.TotalRequests)
}

func TestExtract_MockProviderIsNotCached(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{provider: analyzer.ProviderMock, fn: succeeding("unused")}, nil)

	res, err := f.svc.Extract(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, analyzer.MockMetadata(doc), res.Metadata)
	assert.Zero(t, f.analyzer.calls.Load())
	assert.Zero(t, f.svc.Stats().Cache.CacheFilesCount)
}

/* ───────── degraded results ───────── */

func TestExtract_FatalErrorFallsBack(t *testing.T) {
	// Arrange
	apiErr := &retry.HTTPError{StatusCode: http.StatusUnauthorized, Message: "bad key"}
	f := newFixture(t, &fakeAnalyzer{fn: failing(apiErr)}, nil)

	// Act
	res, err := f.svc.Extract(context.Background(), doc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Degraded())
	assert.Same(t, apiErr, res.Err)
	assert.Equal(t, 0.85, res.Metadata.ConfidenceScore)
	assert.Equal(t, int32(1), f.analyzer.calls.Load(), "fatal errors are not retried")
	assert.Zero(t, f.svc.Stats().Cache.CacheFilesCount, "fallback metadata is never cached")
	assert.Equal(t, 1, f.metrics.fallbacks["fatal"])

	attrs := spanAttrs(t, f.spans)
	assert.Equal(t, "fallback", attrs["result.source"].AsString())
	assert.False(t, attrs["cache.hit"].AsBool())
}

func TestExtract_RetriesThenFallsBack(t *testing.T) {
	apiErr := &retry.HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "down"}
	f := newFixture(t, &fakeAnalyzer{fn: failing(apiErr)}, nil)

	res, err := f.svc.Extract(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Same(t, apiErr, res.Err)
	assert.Equal(t, int32(4), f.analyzer.calls.Load())
	assert.Equal(t, int64(3), f.svc.Stats().Retry.Retries)
	assert.Equal(t, 1, f.metrics.fallbacks["server_error"])
}

func TestExtract_OpenCircuitFallsBackWithoutCalling(t *testing.T) {
	// Arrange
	apiErr := &retry.HTTPError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	f := newFixture(t, &fakeAnalyzer{fn: failing(apiErr)}, func(c *retry.Config) {
		c.MaxRetries = 0
		c.CircuitFailureThreshold = 1
		c.CircuitRecoveryTimeout = time.Hour
	})
	ctx := context.Background()

	// Act
	_, err := f.svc.Extract(ctx, doc)
	require.NoError(t, err)
	res, err := f.svc.Extract(ctx, doc)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	var openErr *retry.CircuitOpenError
	require.ErrorAs(t, res.Err, &openErr)
	assert.Equal(t, int32(1), f.analyzer.calls.Load())
	assert.Equal(t, 1, f.metrics.fallbacks["circuit_open"])
	assert.Equal(t, "open", f.svc.Stats().Retry.CircuitState)

	// Reset lets the next call through.
	f.analyzer.mu.Lock()
	f.analyzer.fn = succeeding("recovered")
	f.analyzer.mu.Unlock()
	f.svc.ResetCircuitBreaker()

	res, err = f.svc.Extract(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, res.Source)
	assert.Equal(t, "recovered", res.Metadata.Abstract)
	assert.Equal(t, "closed", f.svc.Stats().Retry.CircuitState)
}

/* ───────── cancellation ───────── */

func TestExtract_CancelledContext(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeeding("unused")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Extract(ctx, doc)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.analyzer.calls.Load())
}

func TestExtract_CancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, &fakeAnalyzer{fn: func(ctx context.Context, _ string) (analyzer.Metadata, error) {
		cancel()
		<-ctx.Done()
		return analyzer.Metadata{}, ctx.Err()
	}}, nil)

	_, err := f.svc.Extract(ctx, doc)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.metrics.fallbacks)
}

/* ───────── concurrency ───────── */

func TestExtract_ConcurrentCallsShareOneRequest(t *testing.T) {
	// Arrange
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := newFixture(t, &fakeAnalyzer{fn: func(context.Context, string) (analyzer.Metadata, error) {
		once.Do(func() { close(started) })
		<-release
		return succeeding("shared")(context.Background(), "")
	}}, nil)

	// Act
	var wg conc.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		wg.Go(func() {
			res, err := f.svc.Extract(context.Background(), doc)
			assert.NoError(t, err)
			results[i] = res
		})
	}
	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), f.analyzer.calls.Load())
	for _, res := range results {
		assert.Equal(t, "shared", res.Metadata.Abstract)
	}
}

/* ───────── admin ───────── */

func TestClearAndSweepCache(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{fn: succeeding("x")}, nil)
	ctx := context.Background()
	_, err := f.svc.Extract(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, 1, f.svc.Stats().Cache.CacheFilesCount)

	assert.Zero(t, f.svc.SweepCache(ctx), "fresh entries survive a sweep")

	f.svc.ClearCache(ctx)

	stats := f.svc.Stats()
	assert.Zero(t, stats.Cache.CacheFilesCount)
	assert.Zero(t, stats.Cache.MemoryCacheCount)
	assert.False(t, f.svc.CacheInfo(doc).Exists)
}
