package retry

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen matches every *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitOpenError is returned when the breaker rejects an attempt before the
// wrapped call runs. It is never retried.
type CircuitOpenError struct {
	// ConsecutiveFailures is the executor's failure streak at rejection time.
	ConsecutiveFailures int
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open: rejecting request (consecutive failures: %d)", e.ConsecutiveFailures)
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	// Err is the client error the status was extracted from, if any.
	Err error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying client error.
func (e *HTTPError) Unwrap() error {
	return e.Err
}
