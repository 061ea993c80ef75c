// Package runner drives one ingestion run per source: resolve and parse the
// index, process every entry on a bounded pool, merge with the previous
// catalog and write the catalog plus an audit summary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/archive-ingest/internal/assets"
	"github.com/JakeFAU/archive-ingest/internal/audit"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
	"github.com/JakeFAU/archive-ingest/internal/parser"
	"github.com/JakeFAU/archive-ingest/internal/record"
)

// IndexCacheKey names the listing page in a source's cache directory.
const IndexCacheKey = "index.html"

// ResolverFactory returns a resolver scoped to a single run.
type ResolverFactory func() ingest.Resolver

// SummaryWriter persists audit summaries.
type SummaryWriter interface {
	Write(summary audit.Summary) (string, error)
}

// Mirror receives the merged catalog after it is written to disk.
type Mirror interface {
	UpsertCatalog(ctx context.Context, sourceID string, records []ingest.WorkRecord) error
	RecordRun(ctx context.Context, summary audit.Summary) error
}

// Config controls Runner behavior.
type Config struct {
	OutputDir   string
	Concurrency int
	Assets      assets.Config
}

// Runner executes ingestion runs. It is safe to run different sources
// concurrently; runs of the same source must not overlap.
type Runner struct {
	newResolver ResolverFactory
	hasher      ingest.Hasher
	store       *assets.Store
	summaries   SummaryWriter
	mirror      Mirror
	clock       ingest.Clock
	ids         ingest.IDGenerator
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Runner. mirror may be nil.
func New(
	newResolver ResolverFactory,
	hasher ingest.Hasher,
	store *assets.Store,
	summaries SummaryWriter,
	mirror Mirror,
	clock ingest.Clock,
	ids ingest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{
		newResolver: newResolver,
		hasher:      hasher,
		store:       store,
		summaries:   summaries,
		mirror:      mirror,
		clock:       clock,
		ids:         ids,
		cfg:         cfg,
		logger:      logger.Named("runner"),
	}
}

// run carries the state of one source run.
type run struct {
	*Runner
	source   ingest.Source
	profile  ingest.Profile
	resolver ingest.Resolver
	assets   *assets.Pipeline
	logger   *zap.Logger
}

type entryResult struct {
	record ingest.WorkRecord
	audit  audit.Entry
	stored int
}

// Run ingests one source. An unresolvable index is the only terminal
// failure: the catalog is still rewritten from the previous records and the
// summary is marked as an error. The returned summary is always populated.
func (r *Runner) Run(ctx context.Context, source ingest.Source, profile ingest.Profile) (audit.Summary, error) {
	started := r.clock.Now()
	runID, err := r.ids.NewID()
	if err != nil {
		return audit.Summary{}, fmt.Errorf("run id: %w", err)
	}
	summary := audit.Summary{SourceID: source.ID, RunID: runID, StartedAt: started}
	logger := r.logger.With(zap.String("source", source.ID), zap.String("run_id", runID))
	logger.Info("run started", zap.String("profile", profile.Name))
	defer func() {
		metrics.ObserveRun(source.ID, r.clock.Now().Sub(started))
	}()

	catalogPath := record.CatalogPath(r.cfg.OutputDir, source.ID)
	previous, err := record.Load(catalogPath)
	if err != nil {
		// An unreadable catalog is never overwritten.
		summary.Fail(err)
		return summary, r.finish(ctx, &summary, nil, logger, err)
	}

	resolver := r.newResolver()
	current := &run{
		Runner:   r,
		source:   source,
		profile:  profile,
		resolver: resolver,
		assets:   assets.NewPipeline(resolver, r.hasher, r.store, r.cfg.Assets, logger),
		logger:   logger,
	}

	stubs, location, err := current.index(ctx)
	if err != nil {
		logger.Error("index failed", zap.Error(err))
		summary.Fail(err)
		merged, saveErr := r.persist(catalogPath, record.MergeCatalog(previous, nil), &summary)
		return summary, r.finish(ctx, &summary, merged, logger, errors.Join(err, saveErr))
	}
	summary.IndexLocation = location
	logger.Info("index parsed", zap.String("location", location), zap.Int("entries", len(stubs)))

	results := current.entries(ctx, stubs)
	records := make([]ingest.WorkRecord, 0, len(results))
	for _, res := range results {
		summary.Add(res.audit, res.stored)
		if res.audit.Reason != audit.ReasonCanceled {
			records = append(records, res.record)
		}
	}
	runErr := ctx.Err()
	if runErr != nil {
		summary.Fail(runErr)
	}

	merged, saveErr := r.persist(catalogPath, record.MergeCatalog(previous, records), &summary)
	return summary, r.finish(ctx, &summary, merged, logger, errors.Join(runErr, saveErr))
}

// persist writes the catalog and returns the records to mirror.
func (r *Runner) persist(path string, merged []ingest.WorkRecord, summary *audit.Summary) ([]ingest.WorkRecord, error) {
	if err := record.Save(path, merged); err != nil {
		err = fmt.Errorf("write catalog: %w", err)
		if summary.Status != audit.StatusError {
			summary.Fail(err)
		}
		return nil, err
	}
	summary.Totals.CatalogRecords = len(merged)
	return merged, nil
}

// finish stamps the summary, writes it and mirrors the run.
func (r *Runner) finish(ctx context.Context, summary *audit.Summary, merged []ingest.WorkRecord, logger *zap.Logger, runErr error) error {
	summary.Finalize(r.clock.Now())
	errs := []error{runErr}
	if _, err := r.summaries.Write(*summary); err != nil {
		errs = append(errs, fmt.Errorf("write summary: %w", err))
	}
	if r.mirror != nil {
		// The mirror is written even after cancellation so it matches disk.
		mctx := context.WithoutCancel(ctx)
		if merged != nil {
			if err := r.mirror.UpsertCatalog(mctx, summary.SourceID, merged); err != nil {
				errs = append(errs, fmt.Errorf("mirror catalog: %w", err))
			}
		}
		if err := r.mirror.RecordRun(mctx, *summary); err != nil {
			errs = append(errs, fmt.Errorf("mirror run: %w", err))
		}
	}
	logger.Info("run finished",
		zap.String("status", summary.Status),
		zap.Int("entries", summary.Totals.Entries),
		zap.Int("errored", summary.Totals.Errored),
		zap.Int("assets_stored", summary.Totals.AssetsStored),
	)
	return errors.Join(errs...)
}

// index resolves the listing page and parses its rows.
func (c *run) index(ctx context.Context) ([]ingest.IndexStub, string, error) {
	resolved, err := c.resolver.Resolve(ctx, ingest.ResolveRequest{
		SourceID:   c.source.ID,
		CacheKey:   IndexCacheKey,
		Hints:      IndexHints(c.source),
		Timestamps: c.source.Timestamps,
		Kind:       ingest.FetchPage,
	})
	if err != nil {
		return nil, "", fmt.Errorf("resolve index of %s: %w", c.source.ID, err)
	}
	stubs, err := parser.ParseIndex(resolved, c.profile.Index)
	if err != nil {
		return nil, resolved.Location, fmt.Errorf("parse index of %s: %w", c.source.ID, err)
	}
	return stubs, resolved.Location, nil
}

// entries processes stubs on a bounded pool; results keep index order. A
// panicking entry is recorded as an error and the others continue.
func (c *run) entries(ctx context.Context, stubs []ingest.IndexStub) []entryResult {
	results := make([]entryResult, len(stubs))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, stub := range stubs {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					results[i] = c.crashed(stub, p)
				}
			}()
			results[i] = c.entry(ctx, stub)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// crashed builds the stub record and error line of a panicked entry.
func (c *run) crashed(stub ingest.IndexStub, p any) entryResult {
	id := record.ID(c.source.ID, stub.Number, stub.Title)
	c.logger.Error("entry panicked",
		zap.String("entry", id),
		zap.Any("panic", p),
		zap.Stack("stack"),
	)
	res := entryResult{
		record: record.Build(c.source.ID, stub, ingest.DetailFields{}, record.Assets{}, c.profile),
		audit: audit.Entry{
			ID:     id,
			Number: stub.Number,
			Title:  stub.Title,
			Status: audit.StatusError,
			Reason: audit.ReasonPanic,
			Error:  fmt.Sprintf("panic: %v", p),
		},
	}
	metrics.ObserveEntry(c.source.ID, res.audit.Status)
	return res
}

// entry runs the detail, asset and build steps of one row. Failures are
// recorded on the result and never abort the run.
func (c *run) entry(ctx context.Context, stub ingest.IndexStub) entryResult {
	metrics.IncActiveEntries()
	defer metrics.DecActiveEntries()

	id := record.ID(c.source.ID, stub.Number, stub.Title)
	stem := record.FileStem(stub.Number, stub.Title)
	logger := c.logger.With(zap.String("entry", id))
	res := entryResult{audit: audit.Entry{ID: id, Number: stub.Number, Title: stub.Title, Status: audit.StatusOK}}

	if err := ctx.Err(); err != nil {
		res.audit.Status = audit.StatusError
		res.audit.Reason = audit.ReasonCanceled
		res.audit.Error = err.Error()
		metrics.ObserveEntry(c.source.ID, res.audit.Status)
		return res
	}

	var detail ingest.DetailFields
	if stub.DetailURL != "" {
		resolved, err := c.resolver.Resolve(ctx, ingest.ResolveRequest{
			SourceID:   c.source.ID,
			CacheKey:   detailCacheKey(stem),
			Hints:      []string{stub.DetailURL},
			Timestamps: c.source.Timestamps,
			Kind:       ingest.FetchPage,
		})
		if err != nil {
			logger.Warn("detail unresolvable", zap.String("url", stub.DetailURL), zap.Error(err))
			res.audit.Status = audit.StatusError
			res.audit.Reason = audit.ReasonDegraded
			res.audit.Error = err.Error()
		} else {
			res.audit.DetailLocation = resolved.Location
			detail = parser.ParseDetail(resolved, c.profile.Detail)
		}
	}

	var stored record.Assets
	materialize := func(kind ingest.AssetKind, urls []string) []string {
		if len(urls) == 0 {
			return nil
		}
		out := c.assets.Materialize(ctx, assets.Request{
			SourceID:   c.source.ID,
			EntryID:    stem,
			Kind:       kind,
			URLs:       urls,
			Timestamps: c.source.Timestamps,
			Limits:     c.profile.Assets,
		})
		res.audit.Skipped = append(res.audit.Skipped, out.Skipped...)
		res.audit.Failures = append(res.audit.Failures, out.Failures...)
		res.stored += len(out.Stored)
		return out.Paths
	}
	if paths := materialize(ingest.AssetIcon, nonEmpty(stub.IconURL)); len(paths) > 0 {
		stored.Icon = paths[0]
	}
	stored.Screenshots = materialize(ingest.AssetScreenshot, detail.Screenshots)
	if paths := materialize(ingest.AssetBanner, nonEmpty(detail.BannerURL)); len(paths) > 0 {
		stored.Banner = paths[0]
	}
	res.record = record.Build(c.source.ID, stub, detail, stored, c.profile)
	metrics.ObserveEntry(c.source.ID, res.audit.Status)
	logger.Debug("entry processed",
		zap.String("status", res.audit.Status),
		zap.Int("assets", res.stored),
		zap.Int("skipped", len(res.audit.Skipped)),
	)
	return res
}

// IndexHints lists every candidate address of a source's listing page in
// configuration order.
func IndexHints(source ingest.Source) []string {
	paths := source.IndexPaths
	if len(paths) == 0 {
		paths = []string{""}
	}
	var hints []string
	for _, loc := range source.Locations {
		for _, p := range paths {
			if h := joinLocation(loc, p); h != "" {
				hints = append(hints, h)
			}
		}
	}
	return hints
}

func joinLocation(location, path string) string {
	if path == "" {
		return location
	}
	base, err := url.Parse(location)
	if err != nil {
		return ""
	}
	if !strings.HasSuffix(base.Path, "/") && !strings.Contains(lastSegment(base.Path), ".") {
		base.Path += "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func detailCacheKey(stem string) string {
	return "detail/" + url.PathEscape(stem) + ".html"
}

func nonEmpty(u string) []string {
	if u == "" {
		return nil
	}
	return []string{u}
}
