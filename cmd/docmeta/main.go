// Command docmeta extracts structured metadata from text documents through a
// cached, retried and circuit-broken AI analysis endpoint.
//
// Usage:
//
//	docmeta [flags] file...
//
// Each file is analyzed and one JSON object per file is written to stdout.
// With -serve the process instead keeps an admin HTTP server and a scheduled
// cache janitor running until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"docmeta/internal/config"
	"docmeta/internal/infra/analyzer"
	"docmeta/internal/infra/cache"
	"docmeta/internal/observability/logging"
	"docmeta/internal/observability/metrics"
	"docmeta/internal/observability/tracing"
	"docmeta/internal/resilience/retry"
	"docmeta/internal/usecase/metadata"
)

type cliFlags struct {
	stats        bool
	clearCache   bool
	resetBreaker bool
	serve        bool
	server       string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, []string, error) {
	var f cliFlags
	fset := flag.NewFlagSet("docmeta", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.BoolVar(&f.stats, "stats", false, "print cache and retry statistics as JSON")
	fset.BoolVar(&f.clearCache, "clear-cache", false, "remove every cached analysis result")
	fset.BoolVar(&f.resetBreaker, "reset-breaker", false, "close the circuit breaker of a running -serve process")
	fset.BoolVar(&f.serve, "serve", false, "run the admin HTTP server and cache janitor until interrupted")
	fset.StringVar(&f.server, "server", "", "admin server URL used by -reset-breaker (default http://localhost:$METRICS_PORT)")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: docmeta [flags] file...")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return f, nil, err
	}
	return f, fset.Args(), nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, files, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if !flags.serve && !flags.stats && !flags.clearCache && !flags.resetBreaker && len(files) == 0 {
		fmt.Fprintln(stderr, "usage: docmeta [flags] file...")
		return 2
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "load .env: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger := logging.New(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level, Writer: stderr})
	slog.SetDefault(logger)

	shutdownTracing := tracing.Setup()
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.resetBreaker {
		if err := requestBreakerReset(ctx, adminURL(flags.server, cfg.Metrics.Port)); err != nil {
			logger.Error("failed to reset circuit breaker", slog.Any("error", err))
			return 1
		}
		logger.Info("circuit breaker reset")
		return 0
	}

	svc, err := buildService(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		return 1
	}

	if flags.clearCache {
		svc.ClearCache(ctx)
	}

	switch {
	case flags.serve:
		if err := serve(ctx, logger, svc, cfg); err != nil {
			logger.Error("server failed", slog.Any("error", err))
			return 1
		}
	case len(files) > 0:
		summary, err := analyzeFiles(ctx, svc, files, cfg.Workers, stdout)
		if err != nil {
			logger.Error("analysis aborted", slog.Any("error", err))
			return 1
		}
		logger.Info("analysis finished",
			slog.Int("files", summary.Files),
			slog.Int("degraded", summary.Degraded),
			slog.Int("failed", summary.Failed))
		if summary.Failed > 0 {
			return 1
		}
	}

	if flags.stats {
		if err := writeJSON(stdout, svc.Stats()); err != nil {
			logger.Error("failed to write stats", slog.Any("error", err))
			return 1
		}
	}
	return 0
}

// buildService wires cache, executor and analyzer from cfg. Component metrics
// are registered with reg.
func buildService(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*metadata.Service, error) {
	c, err := cache.New[analyzer.Metadata](cfg.Cache,
		cache.WithLogger(logger),
		cache.WithMetrics(cache.NewPrometheusMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	exec := retry.NewExecutor(cfg.Retry,
		retry.WithLogger(logger),
		retry.WithMetrics(retry.NewPrometheusMetrics(reg)))

	a, err := analyzer.New(cfg.Analyzer,
		analyzer.WithLogger(logger),
		analyzer.WithMetrics(analyzer.NewPrometheusMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	if !cfg.Analyzer.Configured() {
		logger.Warn("no API key configured, using heuristic metadata",
			slog.String("provider", cfg.Analyzer.Provider))
	}

	return metadata.NewService(c, exec, a,
		metadata.WithLogger(logger),
		metadata.WithMetrics(metrics.Recorder{})), nil
}
