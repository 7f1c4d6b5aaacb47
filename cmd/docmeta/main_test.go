package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/config"
	"docmeta/internal/infra/analyzer"
	"docmeta/internal/resilience/retry"
	"docmeta/internal/usecase/metadata"
)

/* ───────── helpers ───────── */

type fakeService struct {
	mu       sync.Mutex
	extract  func(text string) (metadata.Result, error)
	stats    metadata.Stats
	cleared  atomic.Int32
	resets   atomic.Int32
	sweeps   atomic.Int32
	lastText string
}

func (f *fakeService) Extract(_ context.Context, text string) (metadata.Result, error) {
	f.mu.Lock()
	f.lastText = text
	f.mu.Unlock()
	if f.extract != nil {
		return f.extract(text)
	}
	return metadata.Result{Metadata: analyzer.EmptyMetadata(), Source: metadata.SourceAPI, CacheKey: "k"}, nil
}

func (f *fakeService) Stats() metadata.Stats { return f.stats }
func (f *fakeService) ClearCache(context.Context) { f.cleared.Add(1) }
func (f *fakeService) ResetCircuitBreaker() { f.resets.Add(1) }
func (f *fakeService) SweepCache(context.Context) int { f.sweeps.Add(1); return 3 }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func decodeLines(t *testing.T, out *bytes.Buffer) map[string]fileResult {
	t.Helper()
	results := map[string]fileResult{}
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r fileResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results[r.File] = r
	}
	require.NoError(t, sc.Err())
	return results
}

/* ───────── file runner ───────── */

func TestAnalyzeFiles(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	ok := writeFile(t, dir, "ok.txt", "good document")
	degraded := writeFile(t, dir, "degraded.txt", "flaky document")
	missing := filepath.Join(dir, "missing.txt")

	svc := &fakeService{extract: func(text string) (metadata.Result, error) {
		if text == "flaky document" {
			return metadata.Result{
				Metadata: analyzer.EmptyMetadata(),
				Source:   metadata.SourceFallback,
				Err:      errors.New("deepseek api error: boom"),
			}, nil
		}
		return metadata.Result{Metadata: analyzer.EmptyMetadata(), Source: metadata.SourceAPI, CacheKey: "abc"}, nil
	}}
	var out bytes.Buffer

	// Act
	summary, err := analyzeFiles(context.Background(), svc, []string{ok, degraded, missing}, 2, &out)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, runSummary{Files: 3, Degraded: 1, Failed: 1}, summary)

	results := decodeLines(t, &out)
	require.Len(t, results, 3)

	assert.Equal(t, metadata.SourceAPI, results[ok].Source)
	assert.Equal(t, "abc", results[ok].CacheKey)
	assert.NotNil(t, results[ok].Metadata)
	assert.NotEmpty(t, results[ok].RequestID)

	assert.Equal(t, metadata.SourceFallback, results[degraded].Source)
	assert.Contains(t, results[degraded].Warning, "boom")

	assert.NotEmpty(t, results[missing].Error)
	assert.Nil(t, results[missing].Metadata)
}

func TestAnalyzeFiles_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "text")
	svc := &fakeService{extract: func(string) (metadata.Result, error) {
		return metadata.Result{}, context.Canceled
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzeFiles(ctx, svc, []string{p}, 1, io.Discard)

	assert.ErrorIs(t, err, context.Canceled)
}

/* ───────── admin server ───────── */

func TestHandler_Health(t *testing.T) {
	h := newHandler(quietLogger(), &fakeService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHandler_BreakerHealth(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		wantCode int
	}{
		{"closed", "closed", http.StatusOK},
		{"half open", "half_open", http.StatusOK},
		{"open", "open", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{stats: metadata.Stats{Retry: retry.Stats{CircuitState: tt.state, ConsecutiveFailures: 2}}}
			h := newHandler(quietLogger(), svc)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/breaker", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body BreakerHealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body.CircuitState)
			assert.Equal(t, 2, body.ConsecutiveFailures)
		})
	}
}

func TestHandler_Stats(t *testing.T) {
	svc := &fakeService{stats: metadata.Stats{Retry: retry.Stats{TotalCalls: 7, CircuitState: "closed"}}}
	h := newHandler(quietLogger(), svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body metadata.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.Retry.TotalCalls)
}

func TestHandler_Extract(t *testing.T) {
	svc := &fakeService{}
	h := newHandler(quietLogger(), svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader("some document")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "some document", svc.lastText)
	var body metadata.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, metadata.SourceAPI, body.Source)
}

func TestHandler_ExtractAborted(t *testing.T) {
	svc := &fakeService{extract: func(string) (metadata.Result, error) {
		return metadata.Result{}, context.Canceled
	}}
	h := newHandler(quietLogger(), svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader("x")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_ExtractRejectsGet(t *testing.T) {
	h := newHandler(quietLogger(), &fakeService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extract", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_AdminActions(t *testing.T) {
	svc := &fakeService{}
	h := newHandler(quietLogger(), svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/clear-cache", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), svc.cleared.Load())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reset-breaker", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), svc.resets.Load())
}

func TestRequestBreakerReset(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(newHandler(quietLogger(), svc))
	defer srv.Close()

	require.NoError(t, requestBreakerReset(context.Background(), srv.URL))
	assert.Equal(t, int32(1), svc.resets.Load())
}

func TestRequestBreakerReset_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := requestBreakerReset(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAdminURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9090", adminURL("", 9090))
	assert.Equal(t, "http://host:1", adminURL("http://host:1/", 9090))
}

/* ───────── janitor ───────── */

func TestSweepOnce(t *testing.T) {
	svc := &fakeService{}

	removed := sweepOnce(context.Background(), quietLogger(), svc)

	assert.Equal(t, 3, removed)
	assert.Equal(t, int32(1), svc.sweeps.Load())
}

func TestStartJanitor_InvalidSchedule(t *testing.T) {
	_, err := startJanitor(context.Background(), quietLogger(), &fakeService{}, "not a schedule")

	assert.Error(t, err)
}

func TestStartJanitor_Stop(t *testing.T) {
	stop, err := startJanitor(context.Background(), quietLogger(), &fakeService{}, "@every 1h")

	require.NoError(t, err)
	stop()
}

/* ───────── wiring ───────── */

func TestBuildService_MockProvider(t *testing.T) {
	env := map[string]string{
		"ANALYZER_PROVIDER":  "mock",
		"DEEPSEEK_CACHE_DIR": t.TempDir(),
	}
	cfg, err := config.LoadFrom(func(k string) string { return env[k] })
	require.NoError(t, err)

	svc, err := buildService(cfg, quietLogger(), prometheus.NewRegistry())
	require.NoError(t, err)

	res, err := svc.Extract(context.Background(), "Transformer 模型 实验 结果 表明 方法 有效。")
	require.NoError(t, err)
	assert.Equal(t, metadata.SourceMock, res.Source)
}

func TestParseFlags(t *testing.T) {
	f, files, err := parseFlags([]string{"-stats", "-server", "http://x", "a.txt", "b.txt"}, io.Discard)

	require.NoError(t, err)
	assert.True(t, f.stats)
	assert.False(t, f.serve)
	assert.Equal(t, "http://x", f.server)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)
}

func TestRun_Usage(t *testing.T) {
	var stderr bytes.Buffer

	assert.Equal(t, 2, run(nil, io.Discard, &stderr))
	assert.Contains(t, stderr.String(), "usage")
	assert.Equal(t, 0, run([]string{"-h"}, io.Discard, io.Discard))
	assert.Equal(t, 2, run([]string{"-bogus"}, io.Discard, io.Discard))
}
