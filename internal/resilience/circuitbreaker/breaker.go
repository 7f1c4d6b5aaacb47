// Package circuitbreaker provides circuit breakers for calls to unreliable dependencies.
//
// Two flavours live here. Breaker is a consecutive-failure state machine used by
// the retry executor in front of the analysis endpoint. Guard wraps
// github.com/sony/gobreaker and sheds load from local infrastructure such as the
// durable cache tier.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the admission state of a Breaker.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects calls until the recovery timeout has elapsed.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

// String returns the lower-case name used in stats and logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the thresholds of a Breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open after the last failure.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the number of probes admitted while half-open.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the thresholds used for the analysis endpoint.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "analysis-api",
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// BreakerSnapshot is a consistent copy of the breaker fields.
type BreakerSnapshot struct {
	State             State
	FailureCount      int
	LastFailureTime   time.Time
	LastFailureReason string
	HalfOpenCalls     int
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChangeHook registers a callback invoked after every transition.
// The hook runs with the breaker lock held and must not call back into the breaker.
func WithStateChangeHook(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// Breaker is a three-state circuit breaker driven by consecutive failures.
// All fields are guarded by mu; admission decisions and failure recording are
// serialized against each other.
type Breaker struct {
	cfg           BreakerConfig
	now           func() time.Time
	logger        *slog.Logger
	onStateChange func(from, to State)

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	lastFailureReason string
	halfOpenCalls     int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenMaxCalls < 1 {
		cfg.HalfOpenMaxCalls = 1
	}
	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed.
//
// An open breaker whose recovery timeout has elapsed moves to half-open and
// admits the caller. The probe counter starts from zero after that transition,
// so HalfOpenMaxCalls further probes are admitted before the first result.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.lastFailureTime.IsZero() && b.now().Sub(b.lastFailureTime) < b.cfg.RecoveryTimeout {
			return false
		}
		b.halfOpenCalls = 0
		b.transition(StateHalfOpen)
		return true
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.halfOpenCalls = 0
		b.transition(StateClosed)
	}
}

// RecordFailure counts a failure. A half-open circuit reopens immediately and
// a closed circuit opens once the threshold is reached.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()
	b.lastFailureReason = reason

	switch b.state {
	case StateHalfOpen:
		b.halfOpenCalls = 0
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of all breaker fields taken under the lock.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:             b.state,
		FailureCount:      b.failureCount,
		LastFailureTime:   b.lastFailureTime,
		LastFailureReason: b.lastFailureReason,
		HalfOpenCalls:     b.halfOpenCalls,
	}
}

// Reset forces the breaker closed and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.lastFailureReason = ""
	b.halfOpenCalls = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.logger.Info("circuit breaker reset", slog.String("circuit", b.cfg.Name))
}

// Config returns the thresholds the breaker was built with.
func (b *Breaker) Config() BreakerConfig {
	return b.cfg
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Warn("circuit breaker state changed",
		slog.String("circuit", b.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("failure_count", b.failureCount))
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
