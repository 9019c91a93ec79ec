// Package apierr describes failures returned by third-party HTTP APIs.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when a provider is used without credentials.
var ErrNotConfigured = errors.New("provider not configured")

// Error is a non-2xx response from an upstream provider.
type Error struct {
	Provider   string
	Method     string
	Path       string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s %s: status %d", e.Provider, e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Provider, e.Method, e.Path, e.Status, body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *Error) Retryable() bool {
	return e.Throttled() || e.Status >= http.StatusInternalServerError
}

// Throttled reports whether the provider rate limited the request.
func (e *Error) Throttled() bool {
	return e.Status == http.StatusTooManyRequests || strings.Contains(strings.ToLower(e.Body), "throttled")
}

// FromResponse builds an Error from a response whose body has been read.
func FromResponse(provider string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Provider: provider,
		Status:   resp.StatusCode,
		Body:     string(body),
	}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		e.Path = resp.Request.URL.Path
	}
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// IsRetryable reports whether err wraps a retryable provider failure.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
