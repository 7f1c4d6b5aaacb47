package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrGuardOpen is returned by Guard.Execute while the guard rejects calls.
var ErrGuardOpen = gobreaker.ErrOpenState

// GuardConfig holds the configuration of a gobreaker-backed Guard.
type GuardConfig struct {
	// Name is the guard name for logging
	Name string

	// MaxRequests is the maximum number of requests allowed in half-open state
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear counts
	Interval time.Duration

	// Timeout is how long to wait in open state before trying again
	Timeout time.Duration

	// ConsecutiveFailures trips the guard
	ConsecutiveFailures uint32

	// IsSuccessful decides which errors count against the guard.
	// When nil every non-nil error is a failure.
	IsSuccessful func(err error) bool
}

// DurableTierConfig returns configuration for the on-disk cache tier.
// Opens after 5 consecutive I/O failures and probes again after 30 seconds.
func DurableTierConfig() GuardConfig {
	return GuardConfig{
		Name:                "cache-durable-tier",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guard wraps gobreaker.CircuitBreaker.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// NewGuard creates a guard with the given configuration.
func NewGuard(cfg GuardConfig) *Guard {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: cfg.IsSuccessful,
	}

	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the guard.
// If the guard is open it returns ErrGuardOpen without calling fn.
func (g *Guard) Execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// IsRejection reports whether err came from the guard rather than from fn.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the current state of the guard.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Name returns the name of the guard.
func (g *Guard) Name() string {
	return g.name
}

// IsOpen returns true if the guard is in the open state.
func (g *Guard) IsOpen() bool {
	return g.breaker.State() == gobreaker.StateOpen
}
