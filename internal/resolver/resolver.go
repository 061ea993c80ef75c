// Package resolver turns location hints into content by walking an ordered
// list of live, archived and proxied candidates.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/archive-ingest/internal/imagemeta"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
	"github.com/JakeFAU/archive-ingest/internal/storage/local"
	"github.com/JakeFAU/archive-ingest/internal/textenc"
)

// Cache persists fetched bodies keyed by source and name.
type Cache interface {
	Get(ctx context.Context, sourceID, key string) (local.Entry, bool, error)
	Put(ctx context.Context, sourceID, key string, entry local.Entry) error
}

// TimestampIndex discovers capture times for an original URL.
type TimestampIndex interface {
	Timestamps(ctx context.Context, target string) ([]string, error)
}

// RateLimiter throttles requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls candidate expansion and content checks.
type Config struct {
	Retry       RetryPolicy
	WaybackBase string
	// Proxies are read-through templates containing {url} or {escaped}.
	Proxies []string
	// PlaceholderMarkers reject page bodies that contain any of them.
	PlaceholderMarkers []string
	// Refresh skips cache reads; successful fetches are still written.
	Refresh bool
}

type memoEntry struct {
	resolved ingest.Resolved
	err      error
}

// Resolver implements ingest.Resolver. One Resolver serves one run: its
// memo and index lookups are never shared across runs.
type Resolver struct {
	fetcher ingest.Fetcher
	cache   Cache
	index   TimestampIndex
	limiter RateLimiter
	sleeper ingest.Sleeper
	cfg     Config
	logger  *zap.Logger

	lookups    singleflight.Group
	inflight   singleflight.Group
	mu         sync.Mutex
	memo       map[string]memoEntry
	timestamps map[string][]string
}

// New wires a resolver. cache, index and limiter may be nil.
func New(
	fetcher ingest.Fetcher,
	cache Cache,
	index TimestampIndex,
	limiter RateLimiter,
	sleeper ingest.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Resolver{
		fetcher:    fetcher,
		cache:      cache,
		index:      index,
		limiter:    limiter,
		sleeper:    sleeper,
		cfg:        cfg,
		logger:     logger.Named("resolver"),
		memo:       make(map[string]memoEntry),
		timestamps: make(map[string][]string),
	}
}

// Resolve returns the first acceptable body among the expanded candidates.
// Identical requests within the run share one result.
func (r *Resolver) Resolve(ctx context.Context, req ingest.ResolveRequest) (ingest.Resolved, error) {
	if len(req.Hints) == 0 {
		return ingest.Resolved{}, &UnresolvableError{}
	}
	if req.Kind == "" {
		req.Kind = ingest.FetchPage
	}
	key := memoKey(req)

	r.mu.Lock()
	if hit, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return hit.resolved, hit.err
	}
	r.mu.Unlock()

	v, _, _ := r.inflight.Do(key, func() (any, error) {
		resolved, err := r.resolve(ctx, req)
		entry := memoEntry{resolved: resolved, err: err}
		// A canceled run must not poison later lookups.
		if ctx.Err() == nil {
			r.mu.Lock()
			r.memo[key] = entry
			r.mu.Unlock()
		}
		return entry, nil
	})
	entry, _ := v.(memoEntry)
	return entry.resolved, entry.err
}

func (r *Resolver) resolve(ctx context.Context, req ingest.ResolveRequest) (ingest.Resolved, error) {
	if resolved, ok := r.fromCache(ctx, req); ok {
		return resolved, nil
	}

	failed := &UnresolvableError{Hints: append([]string(nil), req.Hints...)}
	seen := make(map[string]struct{})

	phases := []func() []string{
		func() []string {
			direct := directCandidates(req.Hints)
			for _, u := range direct {
				seen[u] = struct{}{}
			}
			return direct
		},
		func() []string { return r.archiveCandidates(ctx, req, seen) },
		func() []string { return r.proxyCandidates(req, seen) },
	}
	for _, phase := range phases {
		for _, candidate := range phase() {
			resp, err := r.tryCandidate(ctx, candidate, req.Kind)
			if err == nil {
				resolved := ingest.Resolved{
					Body:        resp.Body,
					Location:    locationOf(resp, candidate),
					ContentType: resp.ContentType,
				}
				r.toCache(ctx, req, resolved, resp.StatusCode)
				return resolved, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ingest.Resolved{}, fmt.Errorf("resolve %s: %w", req.Hints[0], ctxErr)
			}
			failed.Attempts = append(failed.Attempts, Attempt{URL: candidate, Err: err})
			r.logger.Debug("candidate rejected",
				zap.String("source", req.SourceID),
				zap.String("url", candidate),
				zap.Error(err),
			)
		}
	}
	return ingest.Resolved{}, failed
}

// tryCandidate applies the retry policy to one URL.
func (r *Resolver) tryCandidate(ctx context.Context, candidate string, kind ingest.FetchKind) (ingest.FetchResponse, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := r.attempt(ctx, candidate, kind)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !r.cfg.Retry.ShouldRetry(err, attempt) {
			return ingest.FetchResponse{}, lastErr
		}
		if sleepErr := r.sleeper.Sleep(ctx, r.cfg.Retry.Backoff(attempt)); sleepErr != nil {
			return ingest.FetchResponse{}, errors.Join(lastErr, sleepErr)
		}
	}
}

func (r *Resolver) attempt(ctx context.Context, candidate string, kind ingest.FetchKind) (ingest.FetchResponse, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, candidate); err != nil {
			return ingest.FetchResponse{}, err
		}
	}
	resp, err := r.fetcher.Fetch(ctx, ingest.FetchRequest{URL: candidate, Kind: kind, Headers: acceptHeaders(kind)})
	if err != nil {
		metrics.ObserveFetch(candidate, metrics.FetchError)
		return ingest.FetchResponse{}, fmt.Errorf("fetch %s: %w", candidate, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.ObserveFetch(candidate, metrics.FetchStatus)
		return ingest.FetchResponse{}, &StatusError{StatusCode: resp.StatusCode}
	}
	if len(resp.Body) == 0 {
		metrics.ObserveFetch(candidate, metrics.FetchEmpty)
		return ingest.FetchResponse{}, ErrEmptyBody
	}
	// Dead hosts answer every path with a 200 parking page; only a real
	// image signature stops the walk for binaries.
	if kind == ingest.FetchBinary && imagemeta.Detect(resp.Body) == imagemeta.FormatUnknown {
		metrics.ObserveFetch(candidate, metrics.FetchNotImage)
		return ingest.FetchResponse{}, fmt.Errorf("%w: content type %q", ErrNotBinary, resp.ContentType)
	}
	if kind == ingest.FetchPage {
		if marker, ok := r.placeholder(resp); ok {
			metrics.ObserveFetch(candidate, metrics.FetchPlaceholder)
			return ingest.FetchResponse{}, fmt.Errorf("%w: matched %q", ErrPlaceholder, marker)
		}
	}
	metrics.ObserveFetch(candidate, metrics.FetchOK)
	return resp, nil
}

func (r *Resolver) placeholder(resp ingest.FetchResponse) (string, bool) {
	if len(r.cfg.PlaceholderMarkers) == 0 {
		return "", false
	}
	text, err := textenc.ToUTF8(resp.Body, resp.ContentType)
	if err != nil {
		text = string(resp.Body)
	}
	return textenc.ContainsAny(text, r.cfg.PlaceholderMarkers)
}

func (r *Resolver) fromCache(ctx context.Context, req ingest.ResolveRequest) (ingest.Resolved, bool) {
	if r.cache == nil || req.CacheKey == "" || r.cfg.Refresh {
		return ingest.Resolved{}, false
	}
	entry, ok, err := r.cache.Get(ctx, req.SourceID, req.CacheKey)
	if err != nil {
		r.logger.Warn("cache read failed",
			zap.String("source", req.SourceID),
			zap.String("key", req.CacheKey),
			zap.Error(err),
		)
		return ingest.Resolved{}, false
	}
	if !ok || len(entry.Body) == 0 {
		return ingest.Resolved{}, false
	}
	if req.Kind == ingest.FetchBinary && imagemeta.Detect(entry.Body) == imagemeta.FormatUnknown {
		return ingest.Resolved{}, false
	}
	location := entry.Meta.Location
	if location == "" {
		location = req.Hints[0]
	}
	metrics.ObserveFetch(location, metrics.FetchCached)
	return ingest.Resolved{
		Body:        entry.Body,
		Location:    location,
		ContentType: entry.Meta.ContentType,
		FromCache:   true,
	}, true
}

func (r *Resolver) toCache(ctx context.Context, req ingest.ResolveRequest, resolved ingest.Resolved, status int) {
	if r.cache == nil || req.CacheKey == "" {
		return
	}
	err := r.cache.Put(ctx, req.SourceID, req.CacheKey, local.Entry{
		Body: resolved.Body,
		Meta: local.Meta{
			Location:    resolved.Location,
			ContentType: resolved.ContentType,
			StatusCode:  status,
		},
	})
	if err != nil {
		r.logger.Warn("cache write failed",
			zap.String("source", req.SourceID),
			zap.String("key", req.CacheKey),
			zap.Error(err),
		)
	}
}

func acceptHeaders(kind ingest.FetchKind) http.Header {
	h := http.Header{}
	if kind == ingest.FetchBinary {
		h.Set("Accept", "image/*,*/*;q=0.8")
	} else {
		h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	return h
}

func locationOf(resp ingest.FetchResponse, candidate string) string {
	if resp.URL != "" {
		return resp.URL
	}
	return candidate
}

func memoKey(req ingest.ResolveRequest) string {
	return string(req.Kind) + "|" + req.SourceID + "|" + req.CacheKey + "|" + strings.Join(req.Hints, "\x00")
}
