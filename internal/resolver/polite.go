package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// PoliteFetcher applies the per-host limiter and the retry policy to
// requests made outside Resolve, such as archive index lookups. Transient
// statuses are retried; any other response is returned as is.
type PoliteFetcher struct {
	next    ingest.Fetcher
	limiter RateLimiter
	sleeper ingest.Sleeper
	retry   RetryPolicy
}

// NewPoliteFetcher wraps next. limiter may be nil.
func NewPoliteFetcher(next ingest.Fetcher, limiter RateLimiter, sleeper ingest.Sleeper, retry RetryPolicy) *PoliteFetcher {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &PoliteFetcher{next: next, limiter: limiter, sleeper: sleeper, retry: retry}
}

// Fetch implements ingest.Fetcher.
func (f *PoliteFetcher) Fetch(ctx context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.once(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return ingest.FetchResponse{}, err
		}
		if sleepErr := f.sleeper.Sleep(ctx, f.retry.Backoff(attempt)); sleepErr != nil {
			return ingest.FetchResponse{}, errors.Join(err, sleepErr)
		}
	}
}

func (f *PoliteFetcher) once(ctx context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.URL); err != nil {
			return ingest.FetchResponse{}, err
		}
	}
	resp, err := f.next.Fetch(ctx, req)
	if err != nil {
		return ingest.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	if statusErr := (&StatusError{StatusCode: resp.StatusCode}); Transient(statusErr) {
		return ingest.FetchResponse{}, statusErr
	}
	return resp, nil
}
