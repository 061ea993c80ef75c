// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/api"
	"github.com/JakeFAU/archive-ingest/internal/assets"
	"github.com/JakeFAU/archive-ingest/internal/audit"
	"github.com/JakeFAU/archive-ingest/internal/clock/system"
	"github.com/JakeFAU/archive-ingest/internal/config"
	collyfetcher "github.com/JakeFAU/archive-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/archive-ingest/internal/hash/md5"
	"github.com/JakeFAU/archive-ingest/internal/id/uuid"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/logging"
	"github.com/JakeFAU/archive-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/archive-ingest/internal/resolver"
	"github.com/JakeFAU/archive-ingest/internal/runner"
	"github.com/JakeFAU/archive-ingest/internal/storage/local"
	"github.com/JakeFAU/archive-ingest/internal/storage/memory"
	"github.com/JakeFAU/archive-ingest/internal/storage/postgres"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

// App holds the shared, long-lived services of one process. Resolvers are
// the exception: each run gets a fresh one so memoized results never leak
// between runs.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	fetcher   ingest.Fetcher
	cache     resolver.Cache
	limiter   *ratelimit.Limiter
	index     resolver.TimestampIndex
	store     *assets.Store
	summaries *audit.Writer
	mirror    *postgres.CatalogStore
}

// NewApp creates and initializes the services described by cfg. It fails
// fast when a directory or the optional database cannot be set up.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	cache, err := newPageCache(cfg)
	if err != nil {
		return nil, err
	}
	store, err := assets.NewStore(filepath.Clean(cfg.Paths.AssetsDir), cfg.Paths.PublicPrefix)
	if err != nil {
		return nil, fmt.Errorf("init asset store: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	a := &App{
		cfg:       cfg,
		logger:    logger,
		fetcher:   fetcher,
		cache:     cache,
		limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.PerHostRPS, Burst: cfg.HTTP.PerHostBurst}),
		store:     store,
		summaries: audit.NewWriter(cfg.Paths.AuditDir),
	}
	if !cfg.Archive.DisableCDX {
		polite := resolver.NewPoliteFetcher(fetcher, a.limiter, resolver.TimerSleeper{}, a.retryPolicy())
		a.index = wayback.NewCDX(cfg.Archive.WaybackBase, cfg.Archive.CDXLimit, polite)
	}
	if cfg.DB.DSN != "" {
		logger.Info("connecting to catalog mirror")
		mirror, err := postgres.NewCatalogStore(ctx, postgres.CatalogStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns), // #nosec G115 -- small configured value.
		})
		if err != nil {
			return nil, fmt.Errorf("init catalog mirror: %w", err)
		}
		a.mirror = mirror
	}
	return a, nil
}

func newPageCache(cfg config.Config) (resolver.Cache, error) {
	if cfg.Cache.Backend == config.CacheMemory {
		return memory.NewPageCache(), nil
	}
	cache, err := local.New(local.Config{BaseDir: cfg.Paths.CacheDir})
	if err != nil {
		return nil, fmt.Errorf("init page cache: %w", err)
	}
	return cache, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// NewResolver builds a run-scoped resolver over the shared fetcher, cache,
// limiter and archive index.
func (a *App) NewResolver() ingest.Resolver {
	return resolver.New(a.fetcher, a.cache, a.index, a.limiter, resolver.TimerSleeper{}, resolver.Config{
		Retry:              a.retryPolicy(),
		WaybackBase:        a.cfg.Archive.WaybackBase,
		Proxies:            a.cfg.Archive.Proxies,
		PlaceholderMarkers: a.cfg.Archive.PlaceholderMarkers,
		Refresh:            a.cfg.Run.Refresh,
	}, a.logger)
}

func (a *App) retryPolicy() resolver.RetryPolicy {
	return resolver.RetryPolicy{MaxAttempts: a.cfg.HTTP.MaxAttempts, BaseDelay: a.cfg.Backoff()}
}

// Runner wires the run orchestrator.
func (a *App) Runner() *runner.Runner {
	var mirror runner.Mirror
	if a.mirror != nil {
		mirror = a.mirror
	}
	return runner.New(
		a.NewResolver,
		md5.New(),
		a.store,
		a.summaries,
		mirror,
		system.New(),
		uuid.New(),
		runner.Config{
			OutputDir:   a.cfg.Paths.OutputDir,
			Concurrency: a.cfg.Run.Concurrency,
			Assets: assets.Config{
				SmallPx:           a.cfg.Assets.SmallPx,
				HighQualityWidth:  a.cfg.Assets.HighQualityWidth,
				HighQualityHeight: a.cfg.Assets.HighQualityHeight,
				MaxScreenshots:    a.cfg.Assets.MaxScreenshots,
			},
		},
		a.logger,
	)
}

// Server wires the operator status server.
func (a *App) Server() *api.Server {
	return api.NewServer(a.cfg.Sources, a.summaries, a.cfg.Paths.OutputDir, a.logger)
}

// Close releases the database pool and flushes the logger.
func (a *App) Close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
