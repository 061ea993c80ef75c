package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

var (
	// ErrEmptyBody rejects a 2xx response without content.
	ErrEmptyBody = errors.New("empty body")
	// ErrPlaceholder rejects a page that matched a gate/closed marker.
	ErrPlaceholder = errors.New("placeholder page")
	// ErrNotBinary rejects a binary candidate without an image signature.
	// It matches ingest.ErrNotImage.
	ErrNotBinary = fmt.Errorf("binary candidate: %w", ingest.ErrNotImage)
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Attempt is one exhausted candidate and the last error it produced.
type Attempt struct {
	URL string
	Err error
}

// UnresolvableError is returned after every candidate failed. It matches
// ingest.ErrUnresolvable under errors.Is.
type UnresolvableError struct {
	Hints    []string
	Attempts []Attempt
}

func (e *UnresolvableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d candidates for %s", ingest.ErrUnresolvable.Error(), len(e.Attempts), strings.Join(e.Hints, ", "))
	if n := len(e.Attempts); n > 0 {
		last := e.Attempts[n-1]
		fmt.Fprintf(&b, " (last %s: %v)", last.URL, last.Err)
	}
	return b.String()
}

// Is reports whether target is ingest.ErrUnresolvable.
func (e *UnresolvableError) Is(target error) bool {
	return target == ingest.ErrUnresolvable
}

// Unwrap exposes the per-candidate errors so callers can ask why the
// candidates were rejected.
func (e *UnresolvableError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
