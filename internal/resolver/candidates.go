package resolver

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

// target is one original address with the capture times known for it.
type target struct {
	original   string
	timestamps []string
}

// directCandidates returns the hints as given (plus the live original of
// any archive hint) followed by their scheme-swapped variants.
func directCandidates(hints []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, h := range hints {
		add(h)
		if snap, ok := wayback.Parse(h); ok {
			add(snap.Original)
		}
	}
	for _, h := range hints {
		if snap, ok := wayback.Parse(h); ok {
			h = snap.Original
		}
		if swapped, ok := wayback.SwapScheme(h); ok {
			add(swapped)
		}
	}
	return out
}

// targets unwraps archive hints into their originals. Timestamps carried by
// an archive hint come first, then the request-level ones.
func targets(hints, known []string) []target {
	var out []target
	index := make(map[string]int)
	for _, h := range hints {
		original, ts := h, ""
		if snap, ok := wayback.Parse(h); ok {
			original, ts = snap.Original, snap.Timestamp
		}
		if original == "" {
			continue
		}
		i, ok := index[original]
		if !ok {
			i = len(out)
			index[original] = i
			out = append(out, target{original: original})
		}
		if ts != "" {
			out[i].timestamps = appendUnique(out[i].timestamps, ts)
		}
	}
	for i := range out {
		for _, ts := range known {
			if wayback.ValidTimestamp(ts) {
				out[i].timestamps = appendUnique(out[i].timestamps, ts)
			}
		}
	}
	return out
}

// modesFor orders archive access modes by what the caller expects back.
func modesFor(kind ingest.FetchKind) []wayback.Mode {
	if kind == ingest.FetchBinary {
		return []wayback.Mode{wayback.ModeImage, wayback.ModeRaw, wayback.ModeFramed}
	}
	return []wayback.Mode{wayback.ModeRaw, wayback.ModeFramed, wayback.ModeImage}
}

// archiveCandidates builds snapshot addresses for every target. Targets
// without a known timestamp are looked up in the archive index first.
func (r *Resolver) archiveCandidates(ctx context.Context, req ingest.ResolveRequest, skip map[string]struct{}) []string {
	var out []string
	for _, t := range targets(req.Hints, req.Timestamps) {
		timestamps := t.timestamps
		if len(timestamps) == 0 {
			timestamps = r.lookupTimestamps(ctx, t.original)
		}
		for _, ts := range timestamps {
			for _, mode := range modesFor(req.Kind) {
				u := wayback.SnapshotURL(r.cfg.WaybackBase, ts, mode, t.original)
				if _, ok := skip[u]; ok {
					continue
				}
				skip[u] = struct{}{}
				out = append(out, u)
			}
		}
	}
	return out
}

// proxyCandidates expands each proxy template for every original. {url} is
// replaced verbatim, {escaped} query-escaped.
func (r *Resolver) proxyCandidates(req ingest.ResolveRequest, skip map[string]struct{}) []string {
	var out []string
	for _, t := range targets(req.Hints, nil) {
		for _, tmpl := range r.cfg.Proxies {
			if !strings.Contains(tmpl, "{url}") && !strings.Contains(tmpl, "{escaped}") {
				continue
			}
			u := strings.ReplaceAll(tmpl, "{url}", t.original)
			u = strings.ReplaceAll(u, "{escaped}", url.QueryEscape(t.original))
			if _, ok := skip[u]; ok {
				continue
			}
			skip[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// lookupTimestamps asks the archive index once per original per run.
// Only successful lookups are remembered; a failed one is retried by the
// next request for the same original.
func (r *Resolver) lookupTimestamps(ctx context.Context, original string) []string {
	if r.index == nil {
		return nil
	}
	v, err, _ := r.lookups.Do("cdx:"+original, func() (any, error) {
		r.mu.Lock()
		cached, ok := r.timestamps[original]
		r.mu.Unlock()
		if ok {
			return cached, nil
		}
		found, err := r.index.Timestamps(ctx, original)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.timestamps[original] = found
		r.mu.Unlock()
		return found, nil
	})
	if err != nil {
		r.logger.Warn("archive index lookup failed", zap.String("url", original), zap.Error(err))
		return nil
	}
	found, _ := v.([]string)
	return found
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
