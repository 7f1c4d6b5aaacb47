// Package resilience groups the fault tolerance building blocks used in front of
// the document analysis endpoint.
//
// The subpackages are:
//   - circuitbreaker: a consecutive-failure Breaker and a gobreaker-backed Guard
//   - retry: an Executor with exponential backoff, jitter and failure classification
//
// Usage Example:
//
//	exec := retry.NewExecutor(retry.DefaultConfig())
//	meta, err := retry.Do(ctx, exec, func(ctx context.Context) (analyzer.Metadata, error) {
//	    return client.Analyze(ctx, text)
//	})
//	var openErr *retry.CircuitOpenError
//	if errors.As(err, &openErr) {
//	    // the endpoint is considered down, fall back
//	}
package resilience
