// Package retry provides a retry executor with exponential backoff, jitter and
// a circuit breaker consulted before every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"docmeta/internal/resilience/circuitbreaker"
)

// Stats is a snapshot of executor counters.
type Stats struct {
	TotalCalls          int64     `json:"total_calls"`
	SuccessfulCalls     int64     `json:"successful_calls"`
	FailedCalls         int64     `json:"failed_calls"`
	Retries             int64     `json:"retries"`
	CircuitOpens        int64     `json:"circuit_opens"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitState        string    `json:"circuit_state"`
	SuccessRate         float64   `json:"success_rate"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper replaces the timer-based wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Executor) {
		if fn != nil {
			e.random = fn
		}
	}
}

// WithClock replaces time.Now for failure timestamps and the default breaker.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBreaker injects a breaker instead of building one from the config.
// It has no effect when CircuitBreakerEnabled is false.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(e *Executor) {
		e.breaker = b
	}
}

// WithName names the executor and its breaker in logs.
func WithName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

// Executor runs calls under a retry policy. It is safe for concurrent use;
// counters are guarded by one mutex and the breaker has its own.
type Executor struct {
	cfg     Config
	name    string
	breaker *circuitbreaker.Breaker
	sleep   Sleeper
	random  func() float64
	now     func() time.Time
	metrics MetricsRecorder
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewExecutor creates an executor for cfg.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:     cfg,
		name:    "analysis-api",
		sleep:   sleepContext,
		random:  rand.Float64, // #nosec G404 -- jitter does not need cryptographic randomness
		now:     time.Now,
		metrics: noopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !cfg.CircuitBreakerEnabled {
		e.breaker = nil
	} else if e.breaker == nil {
		e.breaker = circuitbreaker.NewBreaker(cfg.BreakerConfig(e.name),
			circuitbreaker.WithClock(e.now),
			circuitbreaker.WithLogger(e.logger))
	}
	return e
}

// Execute runs fn until it succeeds, fails with a non-retryable error or the
// retry budget is spent.
//
// The last error is returned unchanged so callers can match on its type. A
// rejected attempt returns *CircuitOpenError without calling fn. If ctx is done
// before an attempt or during a wait, Execute returns an error wrapping ctx.Err().
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		if e.breaker != nil && !e.breaker.Allow() {
			consecutive := e.recordRejection()
			e.logger.WarnContext(ctx, "circuit breaker open, request rejected",
				slog.String("circuit", e.name),
				slog.Int("consecutive_failures", consecutive))
			return &CircuitOpenError{ConsecutiveFailures: consecutive}
		}

		attemptTimedOut, err := e.runAttempt(ctx, fn)
		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			e.recordSuccess()
			if attempt > 0 {
				e.logger.InfoContext(ctx, "operation succeeded after retry",
					slog.String("circuit", e.name),
					slog.Int("attempt", attempt+1))
			}
			return nil
		}

		if e.breaker != nil {
			e.breaker.RecordFailure(err.Error())
		}
		e.recordFailure(err)

		if attempt == e.cfg.MaxRetries {
			e.logger.ErrorContext(ctx, "operation failed, retries exhausted",
				slog.String("circuit", e.name),
				slog.Int("attempts", attempt+1),
				slog.Any("error", err))
			return err
		}

		if !e.shouldRetry(ctx, err, attemptTimedOut) {
			e.logger.WarnContext(ctx, "non-retryable error, aborting",
				slog.String("circuit", e.name),
				slog.Int("attempt", attempt+1),
				slog.String("class", Classify(err).String()),
				slog.Any("error", err))
			return err
		}

		delay := e.Backoff(attempt)
		e.logger.WarnContext(ctx, "operation failed, retrying",
			slog.String("circuit", e.name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", e.cfg.MaxRetries),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		e.recordRetry(delay)
	}
	// MaxRetries < 0 leaves no attempt to run.
	return errors.New("retry: no attempts configured")
}

// Do runs fn through e and returns its value.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// runAttempt calls fn, bounded by RequestTimeout when set. The boolean
// reports whether the attempt died on its own deadline while ctx was still live.
func (e *Executor) runAttempt(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if e.cfg.RequestTimeout <= 0 {
		return false, fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	err := fn(attemptCtx)
	timedOut := err != nil &&
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		ctx.Err() == nil
	return timedOut, err
}

func (e *Executor) shouldRetry(ctx context.Context, err error, attemptTimedOut bool) bool {
	if ctx.Err() != nil {
		return false
	}
	if attemptTimedOut && e.cfg.RetryOnTimeout {
		return true
	}
	return e.cfg.IsRetryable(err)
}

// Backoff returns the wait before the retry that follows the zero-indexed
// attempt: min(base * exp^attempt, max), stretched by up to JitterFactor.
func (e *Executor) Backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.ExponentialBase, float64(attempt))
	if ceiling := float64(e.cfg.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	if e.cfg.JitterEnabled {
		delay = addJitter(delay, e.cfg.JitterFactor, e.random())
	}
	return time.Duration(delay)
}

// addJitter stretches delay by factor*r, r in [0, 1).
func addJitter(delay, factor, r float64) float64 {
	if factor <= 0 {
		return delay
	}
	return delay * (1 + factor*r)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) recordSuccess() {
	e.mu.Lock()
	e.stats.TotalCalls++
	e.stats.SuccessfulCalls++
	e.stats.ConsecutiveFailures = 0
	e.mu.Unlock()
	e.metrics.RecordCall(true)
}

func (e *Executor) recordFailure(err error) {
	e.mu.Lock()
	e.stats.TotalCalls++
	e.stats.FailedCalls++
	e.stats.ConsecutiveFailures++
	e.stats.LastFailureTime = e.now()
	e.stats.LastFailureReason = err.Error()
	e.mu.Unlock()
	e.metrics.RecordCall(false)
}

func (e *Executor) recordRetry(delay time.Duration) {
	e.mu.Lock()
	e.stats.Retries++
	e.mu.Unlock()
	e.metrics.RecordRetry(delay)
}

func (e *Executor) recordRejection() int {
	e.mu.Lock()
	e.stats.CircuitOpens++
	consecutive := e.stats.ConsecutiveFailures
	e.mu.Unlock()
	e.metrics.RecordCircuitRejection()
	return consecutive
}

// Stats returns a snapshot of the counters and the breaker state.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	s := e.stats
	e.mu.Unlock()

	s.CircuitState = circuitbreaker.StateClosed.String()
	if e.breaker != nil {
		s.CircuitState = e.breaker.State().String()
	}
	s.SuccessRate = 1.0
	if s.TotalCalls > 0 {
		s.SuccessRate = float64(s.SuccessfulCalls) / float64(s.TotalCalls)
	}
	return s
}

// ResetStats zeroes every counter. The breaker is left alone.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	e.stats = Stats{}
	e.mu.Unlock()
}

// ResetCircuitBreaker forces the breaker closed and clears the failure streak.
func (e *Executor) ResetCircuitBreaker() {
	if e.breaker != nil {
		e.breaker.Reset()
	}
	e.mu.Lock()
	e.stats.ConsecutiveFailures = 0
	e.mu.Unlock()
}

// Breaker returns the breaker consulted before each attempt, or nil when disabled.
func (e *Executor) Breaker() *circuitbreaker.Breaker {
	return e.breaker
}

// Config returns the policy of the executor.
func (e *Executor) Config() Config {
	return e.cfg
}
