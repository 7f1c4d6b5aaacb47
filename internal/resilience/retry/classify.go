package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the failure category an error falls into.
type Class int

const (
	// ClassFatal errors are never retried.
	ClassFatal Class = iota
	ClassTimeout
	ClassRateLimit
	ClassServerError
	ClassNetwork
)

// String returns the label used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassRateLimit:
		return "rate_limit"
	case ClassServerError:
		return "server_error"
	case ClassNetwork:
		return "network"
	default:
		return "fatal"
	}
}

// Classify sorts err into a single failure class for logs and metrics.
//
// Typed errors are inspected first (HTTPError status codes, net.Error, syscall
// errnos). Errors that carry no type information are matched on their message,
// since many SDKs flatten transport failures into strings. An error can match
// several categories; retry decisions use IsRetryable, which checks each one.
func Classify(err error) Class {
	if isFatal(err) {
		return ClassFatal
	}
	if class, ok := httpClass(err); ok {
		return class
	}
	switch {
	case timeoutTyped(err):
		return ClassTimeout
	case networkTyped(err):
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case timeoutMessage(msg):
		return ClassTimeout
	case rateLimitMessage(msg):
		return ClassRateLimit
	case serverErrorMessage(msg):
		return ClassServerError
	case networkMessage(msg):
		return ClassNetwork
	}
	return ClassFatal
}

// isFatal reports errors that are never retried whatever the policy.
func isFatal(err error) bool {
	if err == nil {
		return true
	}
	var openErr *CircuitOpenError
	if errors.As(err, &openErr) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	// A client error status is authoritative over the message text.
	class, ok := httpClass(err)
	return ok && class == ClassFatal
}

// httpClass maps the status of an HTTPError in err's chain.
func httpClass(err error) (Class, bool) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode <= 0 {
		return ClassFatal, false
	}
	switch code := httpErr.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ClassTimeout, true
	case code == http.StatusTooManyRequests:
		return ClassRateLimit, true
	case code >= 500 && code < 600:
		return ClassServerError, true
	default:
		return ClassFatal, true
	}
}

func httpIs(err error, class Class) bool {
	c, ok := httpClass(err)
	return ok && c == class
}

func timeoutTyped(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func networkTyped(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func timeoutMessage(msg string) bool {
	return containsAny(msg, "timeout", "timed out")
}

func rateLimitMessage(msg string) bool {
	return containsAny(msg, "rate limit", "429", "too many requests")
}

func serverErrorMessage(msg string) bool {
	return containsAny(msg, "500", "502", "503", "504")
}

func networkMessage(msg string) bool {
	return containsAny(msg, "connection", "network", "dns", "socket", "refused")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Retryable reports whether the policy retries errors of class c.
func (c Config) Retryable(class Class) bool {
	switch class {
	case ClassTimeout:
		return c.RetryOnTimeout
	case ClassRateLimit:
		return c.RetryOnRateLimit
	case ClassServerError:
		return c.RetryOnServerError
	case ClassNetwork:
		return c.RetryOnNetworkError
	default:
		return false
	}
}

// IsRetryable reports whether the policy retries err. Every enabled category
// is checked on its own, so an error that looks like both a timeout and a
// network failure is retried when either flag is set.
func (c Config) IsRetryable(err error) bool {
	if isFatal(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case c.RetryOnTimeout && (httpIs(err, ClassTimeout) || timeoutTyped(err) || timeoutMessage(msg)):
		return true
	case c.RetryOnRateLimit && (httpIs(err, ClassRateLimit) || rateLimitMessage(msg)):
		return true
	case c.RetryOnServerError && (httpIs(err, ClassServerError) || serverErrorMessage(msg)):
		return true
	case c.RetryOnNetworkError && (networkTyped(err) || networkMessage(msg)):
		return true
	}
	return false
}

// IsRetryable determines if an error is worth retrying under DefaultConfig.
func IsRetryable(err error) bool {
	return DefaultConfig().IsRetryable(err)
}
