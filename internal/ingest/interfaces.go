package ingest

import (
	"context"
	"errors"
	"time"
)

// ErrUnresolvable is returned when every candidate location for a request
// has been exhausted.
var ErrUnresolvable = errors.New("source unresolvable")

// ErrNotImage is returned when binary content carries no image signature.
var ErrNotImage = errors.New("not an image")

// Fetcher fetches a single URL and returns the raw body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ResolveRequest describes one logical resource to resolve.
type ResolveRequest struct {
	SourceID string
	// CacheKey names the page inside the source's cache directory. Empty
	// disables caching for the request.
	CacheKey string
	Hints    []string
	// Timestamps are capture times to try before asking the archive index.
	Timestamps []string
	Kind       FetchKind
}

// Resolver turns location hints into content.
type Resolver interface {
	Resolve(ctx context.Context, request ResolveRequest) (Resolved, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Sleeper waits between retry attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
