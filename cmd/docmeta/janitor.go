package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"docmeta/internal/observability/metrics"
)

type sweeper interface {
	SweepCache(ctx context.Context) int
}

// sweepOnce removes expired cache entries and records the run.
func sweepOnce(ctx context.Context, logger *slog.Logger, svc sweeper) int {
	start := time.Now()
	removed := svc.SweepCache(ctx)
	metrics.RecordJanitorSweep(removed)
	logger.InfoContext(ctx, "cache janitor finished",
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
	return removed
}

// startJanitor schedules sweepOnce on schedule (standard 5-field cron). The
// returned stop function waits for a running sweep to finish.
func startJanitor(ctx context.Context, logger *slog.Logger, svc sweeper, schedule string) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { sweepOnce(ctx, logger, svc) }); err != nil {
		return nil, fmt.Errorf("schedule cache janitor: %w", err)
	}
	c.Start()
	logger.Info("cache janitor scheduled", slog.String("schedule", schedule))

	return func() {
		<-c.Stop().Done()
	}, nil
}
