package resolver

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryPolicy bounds attempts against a single candidate. The delay before
// attempt n+1 is n*BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns three attempts with a 500ms linear step.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Attempts returns the effective attempt budget, never below one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return time.Duration(attempt) * p.BaseDelay
}

// ShouldRetry decides whether the same candidate deserves another attempt.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.Attempts() {
		return false
	}
	return Transient(err)
}

// Transient reports whether err is worth retrying against the same URL.
// Client errors, empty bodies, placeholder pages and non-image binaries
// move on to the next candidate immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyBody) || errors.Is(err, ErrPlaceholder) || errors.Is(err, ErrNotBinary) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout
	}
	// Anything else came from the transport: timeouts, resets, refused dials.
	return true
}
