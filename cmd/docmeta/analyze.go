package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docmeta/internal/infra/analyzer"
	"docmeta/internal/observability/logging"
	"docmeta/internal/observability/metrics"
	"docmeta/internal/usecase/metadata"
)

// fileResult is the JSON line written for each analyzed file.
type fileResult struct {
	File      string             `json:"file"`
	RequestID string             `json:"request_id"`
	Source    metadata.Source    `json:"source,omitempty"`
	CacheKey  string             `json:"cache_key,omitempty"`
	Metadata  *analyzer.Metadata `json:"metadata,omitempty"`
	Warning   string             `json:"warning,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type runSummary struct {
	Files    int
	Degraded int
	Failed   int
}

// extractor is the part of metadata.Service the file runner needs.
type extractor interface {
	Extract(ctx context.Context, text string) (metadata.Result, error)
}

// analyzeFiles runs svc over files with at most workers in flight and writes
// one JSON line per file to out. Per-file failures are reported in the output;
// only cancellation aborts the run.
func analyzeFiles(ctx context.Context, svc extractor, files []string, workers int, out io.Writer) (runSummary, error) {
	var (
		mu      sync.Mutex
		summary runSummary
	)
	enc := json.NewEncoder(out)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, path := range files {
		g.Go(func() error {
			res := analyzeFile(gctx, svc, path)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			status := "success"
			switch {
			case res.Error != "":
				status = "failure"
			case res.Source == metadata.SourceFallback:
				status = "degraded"
			}
			metrics.RecordFileProcessed(status)

			mu.Lock()
			defer mu.Unlock()
			summary.Files++
			switch status {
			case "failure":
				summary.Failed++
			case "degraded":
				summary.Degraded++
			}
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result for %s: %w", path, err)
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}

func analyzeFile(ctx context.Context, svc extractor, path string) fileResult {
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := logging.FromContext(ctx).With(slog.String("file", path))
	res := fileResult{File: path, RequestID: requestID}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read file", slog.Any("error", err))
		res.Error = err.Error()
		return res
	}

	start := time.Now()
	result, err := svc.Extract(ctx, string(data))
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Source = result.Source
	res.CacheKey = result.CacheKey
	res.Metadata = &result.Metadata
	if result.Err != nil {
		res.Warning = result.Err.Error()
	}
	logger.InfoContext(ctx, "file analyzed",
		slog.String("source", string(result.Source)),
		slog.Duration("duration", time.Since(start)))
	return res
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
