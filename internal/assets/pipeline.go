// Package assets downloads, validates, deduplicates and stores the icon,
// screenshots and banner of an entry.
package assets

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/imagemeta"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
)

// Outcome label for kept assets.
const outcomeStored = "stored"

// Config holds the global asset limits. Source profiles may override them.
type Config struct {
	SmallPx           int
	HighQualityWidth  int
	HighQualityHeight int
	MaxScreenshots    int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{SmallPx: 100, HighQualityWidth: 400, HighQualityHeight: 300, MaxScreenshots: 4}
}

// Request asks for one asset slot of one entry.
type Request struct {
	SourceID string
	// EntryID is the file stem, normally the raw entry number.
	EntryID    string
	Kind       ingest.AssetKind
	URLs       []string
	Timestamps []string
	Limits     ingest.AssetProfile
}

// Pipeline implements the materialize step.
type Pipeline struct {
	resolver ingest.Resolver
	hasher   ingest.Hasher
	store    *Store
	cfg      Config
	logger   *zap.Logger
}

// NewPipeline wires a pipeline. Zero thresholds in cfg take the defaults.
func NewPipeline(resolver ingest.Resolver, hasher ingest.Hasher, store *Store, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resolver: resolver,
		hasher:   hasher,
		store:    store,
		cfg:      withDefaults(cfg, ingest.AssetProfile{}),
		logger:   logger.Named("assets"),
	}
}

// Materialize fetches every candidate and keeps what passes the filters.
// Screenshots are validated, size filtered, deduplicated by content hash,
// quality selected and capped. Icons and banners keep the first valid
// image. Existing files are only replaced when something new is kept.
func (p *Pipeline) Materialize(ctx context.Context, req Request) ingest.AssetResult {
	var result ingest.AssetResult
	if len(req.URLs) == 0 {
		return result
	}
	limits := withDefaults(p.cfg, req.Limits)

	var accepted []ingest.AssetCandidate
	if req.Kind == ingest.AssetScreenshot {
		accepted = p.screenshots(ctx, req, limits, &result)
	} else if c, ok := p.single(ctx, req, &result); ok {
		accepted = []ingest.AssetCandidate{c}
	}
	if len(accepted) == 0 {
		return result
	}

	files := make([]File, 0, len(accepted))
	for i, c := range accepted {
		files = append(files, File{
			Name:      FileName(req.EntryID, i+1, c.Format),
			Data:      c.Body,
			SourceURL: c.URL,
			Width:     c.Width,
			Height:    c.Height,
		})
	}
	stored, err := p.store.Replace(req.SourceID, req.EntryID, req.Kind, files)
	for _, s := range stored {
		result.Stored = append(result.Stored, s)
		result.Paths = append(result.Paths, s.PublicPath)
		metrics.ObserveAsset(string(req.Kind), outcomeStored)
	}
	if err != nil {
		p.logger.Warn("asset write failed",
			zap.String("source", req.SourceID),
			zap.String("entry", req.EntryID),
			zap.Error(err),
		)
		for _, f := range files[len(stored):] {
			p.note(&result.Failures, req.Kind, f.SourceURL, ingest.ReasonWrite)
		}
	}
	return result
}

func (p *Pipeline) screenshots(ctx context.Context, req Request, limits Config, result *ingest.AssetResult) []ingest.AssetCandidate {
	var (
		accepted []ingest.AssetCandidate
		hashes   = make(map[string]struct{})
		urls     = make(map[string]struct{})
	)
	for _, u := range req.URLs {
		if _, dup := urls[u]; dup {
			p.note(&result.Skipped, req.Kind, u, ingest.ReasonDuplicate)
			continue
		}
		urls[u] = struct{}{}

		c, reason := p.fetch(ctx, req, u)
		if reason != "" {
			p.note(&result.Failures, req.Kind, u, reason)
			continue
		}
		if c.Width < limits.SmallPx && c.Height < limits.SmallPx {
			p.note(&result.Skipped, req.Kind, u, ingest.ReasonSmall)
			continue
		}
		if _, dup := hashes[c.Hash]; dup {
			p.note(&result.Skipped, req.Kind, u, ingest.ReasonDuplicate)
			continue
		}
		hashes[c.Hash] = struct{}{}
		accepted = append(accepted, c)
	}

	if hasHighQuality(accepted, limits) {
		kept := accepted[:0:0]
		for _, c := range accepted {
			if isHighQuality(c, limits) {
				kept = append(kept, c)
				continue
			}
			p.note(&result.Skipped, req.Kind, c.URL, ingest.ReasonLowQuality)
		}
		accepted = kept
	}
	if len(accepted) > limits.MaxScreenshots {
		for _, c := range accepted[limits.MaxScreenshots:] {
			p.note(&result.Skipped, req.Kind, c.URL, ingest.ReasonOverLimit)
		}
		accepted = accepted[:limits.MaxScreenshots]
	}
	return accepted
}

// single returns the first candidate that is a valid image.
func (p *Pipeline) single(ctx context.Context, req Request, result *ingest.AssetResult) (ingest.AssetCandidate, bool) {
	for _, u := range req.URLs {
		c, reason := p.fetch(ctx, req, u)
		if reason != "" {
			p.note(&result.Failures, req.Kind, u, reason)
			continue
		}
		return c, true
	}
	return ingest.AssetCandidate{}, false
}

// fetch resolves one candidate and inspects it. A non-empty reason means
// the candidate failed.
func (p *Pipeline) fetch(ctx context.Context, req Request, u string) (ingest.AssetCandidate, string) {
	cacheKey := ""
	if key, err := p.hasher.Hash([]byte(u)); err == nil {
		cacheKey = fmt.Sprintf("assets/%s", key)
	}
	resolved, err := p.resolver.Resolve(ctx, ingest.ResolveRequest{
		SourceID:   req.SourceID,
		CacheKey:   cacheKey,
		Hints:      []string{u},
		Timestamps: req.Timestamps,
		Kind:       ingest.FetchBinary,
	})
	if err != nil {
		p.logger.Debug("asset unresolvable", zap.String("url", u), zap.Error(err))
		if errors.Is(err, ingest.ErrNotImage) {
			return ingest.AssetCandidate{}, ingest.ReasonNotImage
		}
		return ingest.AssetCandidate{}, ingest.ReasonFetch
	}
	info, err := imagemeta.Inspect(resolved.Body)
	if err != nil {
		if !errors.Is(err, imagemeta.ErrNotImage) {
			p.logger.Debug("corrupt image header", zap.String("url", u), zap.Error(err))
		}
		return ingest.AssetCandidate{}, ingest.ReasonNotImage
	}
	sum, err := p.hasher.Hash(resolved.Body)
	if err != nil {
		return ingest.AssetCandidate{}, ingest.ReasonNotImage
	}
	return ingest.AssetCandidate{
		URL:    u,
		Body:   resolved.Body,
		Format: string(info.Format),
		Width:  info.Width,
		Height: info.Height,
		Hash:   sum,
	}, ""
}

func (p *Pipeline) note(list *[]ingest.AssetNote, kind ingest.AssetKind, u, reason string) {
	*list = append(*list, ingest.AssetNote{Kind: kind, URL: u, Reason: reason})
	metrics.ObserveAsset(string(kind), reason)
}

func hasHighQuality(cs []ingest.AssetCandidate, limits Config) bool {
	for _, c := range cs {
		if isHighQuality(c, limits) {
			return true
		}
	}
	return false
}

func isHighQuality(c ingest.AssetCandidate, limits Config) bool {
	return c.Width >= limits.HighQualityWidth && c.Height >= limits.HighQualityHeight
}

func withDefaults(cfg Config, override ingest.AssetProfile) Config {
	def := DefaultConfig()
	pick := func(values ...int) int {
		for _, v := range values {
			if v > 0 {
				return v
			}
		}
		return 0
	}
	return Config{
		SmallPx:           pick(override.SmallPx, cfg.SmallPx, def.SmallPx),
		HighQualityWidth:  pick(override.HighQualityWidth, cfg.HighQualityWidth, def.HighQualityWidth),
		HighQualityHeight: pick(override.HighQualityHeight, cfg.HighQualityHeight, def.HighQualityHeight),
		MaxScreenshots:    pick(override.MaxScreenshots, cfg.MaxScreenshots, def.MaxScreenshots),
	}
}
