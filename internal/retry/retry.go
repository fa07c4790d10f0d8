// Package retry wraps fallible operations with bounded exponential backoff.
//
// Only transient failures (rate limiting, 5xx-class server errors, flaky
// network) are retried; permanent failures propagate immediately. Operations
// passed to Do are re-invoked verbatim on each attempt, so they must be
// idempotent or safely re-executable.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config configures retry behavior.
type Config struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultConfig returns sensible defaults for Gemini API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// transientPatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because the genai SDK does not expose
// typed errors for transient failures. This is a documented exception to
// the project rule against strings.Contains(err.Error(), ...).
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "resource_exhausted", "429"}, // rate limiting
	{"500", "502", "503", "504", "unavailable", "internal"},       // transient server errors
	{"connection reset", "timeout", "temporary"},                  // network errors
}

// Transient reports whether err should trigger a retry.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range transientPatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Do executes op with exponential backoff retry.
//
// On success the operation's value is returned as-is. A permanent error
// fails immediately; a transient error is retried up to cfg.MaxRetries
// times, doubling the delay each attempt up to cfg.MaxInterval. The
// context is honored during backoff waits.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Non-retryable error: fail immediately, unchanged.
		if !Transient(err) {
			return zero, err
		}

		// Last attempt: don't sleep.
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("after %d retries (elapsed: %v): %w",
		cfg.MaxRetries, time.Since(start).Round(time.Millisecond), lastErr)
}
