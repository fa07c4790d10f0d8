package gemini

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Error classification helpers.
//
// The genai SDK surfaces HTTP failures as *genai.APIError with a status
// code; other layers (transport, proxies) only give us text. Classify by
// code when available and fall back to substring matching, mirroring the
// approach in internal/retry.

// IsNotFound reports whether err is a stale-resource (404-class) error:
// the server no longer recognizes a cached store, file, or session.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	return containsAnyFold(err.Error(), "not found", "not_found", "404")
}

// IsRateLimited reports whether err is a rate-limit (429-class) error,
// for which the caller should surface a user-actionable message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429
	}
	return containsAnyFold(err.Error(), "rate limit", "quota exceeded", "resource_exhausted", "429")
}

// containsAnyFold checks if s contains any substring, case-insensitively.
// Substrings must already be lowercase.
func containsAnyFold(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
