package analyzer

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"docmeta/internal/resilience/retry"
)

// RateLimiter is a token bucket in front of the analysis endpoint.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows burst requests at once and refills at
// requestsPerSecond. A non-positive rate returns nil, which never waits.
//
// Example:
//
//	limiter := NewRateLimiter(2.0, 4) // 2 req/s with burst of 4
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a token is available.
//
// When ctx ends the context error is returned wrapped. When the limiter gives
// up early because the wait would outlast the deadline, the result is a 429
// HTTPError so the retry executor backs off like it would for the remote limit.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("rate limiter: %w", ctxErr)
		}
		return &retry.HTTPError{StatusCode: http.StatusTooManyRequests, Message: "local rate limit", Err: err}
	}
	return nil
}
