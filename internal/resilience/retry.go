// Package resilience provides retry-with-backoff and client-side rate
// limiting for outbound provider calls.
package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
)

// RetryConfig controls RunWithBackoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// IsRetryable classifies an error, in priority order: an explicit retryable
// flag on a typed generation error wins; otherwise network-level transport
// failures are retryable; everything else is not. HTTP status classification
// happens once, at the provider boundary (see RetryableStatus), and arrives
// here already folded into the typed error's flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := caperrors.As(err); ok {
		return e.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryableStatus implements the status-code half of the classification:
// 429 and 5xx are retryable, other 4xx are not, anything else defaults to
// not retryable.
func RetryableStatus(statusCode int) bool {
	if statusCode == 429 {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	return false
}

// BackoffDelay computes the delay after the given number of prior failures:
// min(InitialDelay * 2^failures, MaxDelay).
func (c RetryConfig) BackoffDelay(failures int) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	d := c.InitialDelay
	for i := 0; i < failures; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// RunWithBackoff invokes fn, retrying on retryable failures with capped
// exponential backoff. Non-retryable failures and the final failure
// propagate immediately with no trailing delay.
func RunWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.BackoffDelay(attempt - 1)):
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}
