package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff for embedding API calls
type RetryConfig struct {
	MaxAttempts int           // Total calls, including the first
	BaseDelay   time.Duration // Wait after the first failure
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the backoff used by the HTTP providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: MaxAttempts,
		BaseDelay:   time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:    time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier:  BackoffMultiplier,
	}
}

// APIError is a non-200 answer from an embedding endpoint
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later:
// rate limiting and server-side failures
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// retryable treats API status errors by code and anything else (transport,
// truncated bodies) as transient. Context errors never retry.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// retryWithBackoff calls fn until it succeeds, fails permanently or runs out
// of attempts. The returned error says how many attempts were made.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) || attempt == attempts {
			return zero, fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
	}
}
