package retry

import (
	"errors"
	"fmt"
	"time"

	"docmeta/internal/resilience/circuitbreaker"
)

// Config holds the retry and circuit breaker policy of an Executor.
// Values are copied into the executor and never change afterwards.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential delay before jitter is applied.
	MaxDelay time.Duration

	// ExponentialBase is the growth factor between consecutive delays.
	ExponentialBase float64

	// JitterEnabled adds up to JitterFactor of the delay as random jitter.
	JitterEnabled bool
	JitterFactor  float64

	RetryOnTimeout      bool
	RetryOnRateLimit    bool
	RetryOnServerError  bool
	RetryOnNetworkError bool

	// CircuitBreakerEnabled consults a Breaker before every attempt.
	CircuitBreakerEnabled   bool
	CircuitFailureThreshold int
	CircuitRecoveryTimeout  time.Duration
	CircuitHalfOpenMaxCalls int

	// RequestTimeout bounds a single attempt. Zero disables the per-attempt deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns the policy used for the analysis endpoint.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              3,
		BaseDelay:               1 * time.Second,
		MaxDelay:                60 * time.Second,
		ExponentialBase:         2.0,
		JitterEnabled:           true,
		JitterFactor:            0.1,
		RetryOnTimeout:          true,
		RetryOnRateLimit:        true,
		RetryOnServerError:      true,
		RetryOnNetworkError:     true,
		CircuitBreakerEnabled:   true,
		CircuitFailureThreshold: 5,
		CircuitRecoveryTimeout:  60 * time.Second,
		CircuitHalfOpenMaxCalls: 3,
		RequestTimeout:          60 * time.Second,
	}
}

// BreakerConfig derives the breaker thresholds from the policy.
func (c Config) BreakerConfig(name string) circuitbreaker.BreakerConfig {
	return circuitbreaker.BreakerConfig{
		Name:             name,
		FailureThreshold: c.CircuitFailureThreshold,
		RecoveryTimeout:  c.CircuitRecoveryTimeout,
		HalfOpenMaxCalls: c.CircuitHalfOpenMaxCalls,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must be >= 0, got %v", c.BaseDelay))
	}
	if c.MaxDelay < c.BaseDelay {
		errs = append(errs, fmt.Errorf("max delay (%v) must be >= base delay (%v)", c.MaxDelay, c.BaseDelay))
	}
	if c.ExponentialBase < 1 {
		errs = append(errs, fmt.Errorf("exponential base must be >= 1, got %g", c.ExponentialBase))
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("jitter factor must be within [0, 1], got %g", c.JitterFactor))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must be >= 0, got %v", c.RequestTimeout))
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitFailureThreshold < 1 {
			errs = append(errs, fmt.Errorf("circuit failure threshold must be >= 1, got %d", c.CircuitFailureThreshold))
		}
		if c.CircuitRecoveryTimeout <= 0 {
			errs = append(errs, fmt.Errorf("circuit recovery timeout must be positive, got %v", c.CircuitRecoveryTimeout))
		}
		if c.CircuitHalfOpenMaxCalls < 1 {
			errs = append(errs, fmt.Errorf("circuit half-open max calls must be >= 1, got %d", c.CircuitHalfOpenMaxCalls))
		}
	}
	return errors.Join(errs...)
}
