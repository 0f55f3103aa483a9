package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-200 response from the endpoint.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed Retry-After header, 0 when absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, truncate(e.Body, 300))
}

// Retryable reports whether the status is worth retrying: 429 and 5xx
// are transient, other 4xx are not.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (seconds form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryConfig matches the runtime defaults: 4 attempts,
// exponential backoff from 500ms capped at 15s, 120s per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       15 * time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

// retryable classifies an error. Caller cancellation is never retried;
// network errors, per-attempt timeouts, and retryable HTTP statuses
// are. A DeadlineExceeded here can only come from the attempt timer:
// RetryDo checks the caller's ctx before consulting this.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Transport-level failures (connection refused, reset, DNS).
	var oe *net.OpError
	return errors.As(err, &oe)
}

// RetryDo runs fn with exponential backoff until it succeeds, exhausts
// attempts, hits a non-retryable error, or ctx is cancelled. onRetry,
// when non-nil, observes each scheduled retry.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error, delay time.Duration)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		result, err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Abort promptly when the caller cancelled, even if the
		// attempt error looks transient.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == cfg.MaxAttempts || !retryable(err) {
			return zero, lastErr
		}

		delay := backoffDelay(cfg, attempt)
		var he *HTTPError
		if errors.As(err, &he) && he.RetryAfter > delay {
			delay = he.RetryAfter
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// backoffDelay is exponential with ±20% jitter, capped at MaxDelay.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	d *= 0.8 + 0.4*rand.Float64()
	if capped := float64(cfg.MaxDelay); d > capped {
		d = capped
	}
	return time.Duration(d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
