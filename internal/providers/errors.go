package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRequest marks requests rejected before they are sent.
var ErrInvalidRequest = errors.New("invalid request")

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, or zero.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 500 {
		body = body[:500] + "...[truncated]"
	}
	if body == "" {
		return fmt.Sprintf("%s error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, body)
}

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	return IsTransientStatus(e.StatusCode)
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError unwraps err into a RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsTransientStatus reports whether an HTTP status is retryable:
// 429 and the 500/502/503/504 server errors.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryAfterHint extracts a Retry-After hint from err, if any.
func RetryAfterHint(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	if rle, ok := IsRateLimitError(err); ok {
		return rle.RetryAfter
	}
	return 0
}

// StatusCode returns the HTTP status carried by err, or 0 for transport
// errors.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	if rle, ok := IsRateLimitError(err); ok {
		return rle.StatusCode
	}
	return 0
}

// parseRetryAfter reads a Retry-After header given either as (possibly
// fractional) seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// IsDecodeError reports whether err came from an undecodable response body.
func IsDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}
