// Package postgres mirrors catalogs and run summaries into Postgres for
// downstream SQL consumers.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/archive-ingest/internal/audit"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CatalogStoreConfig controls the Postgres connection pool used for the mirror.
type CatalogStoreConfig struct {
	DSN             string
	RecordsTable    string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CatalogStore upserts work records and run summaries.
type CatalogStore struct {
	pool    pool
	records string
	runs    string
}

// NewCatalogStore connects to Postgres using the provided config.
func NewCatalogStore(ctx context.Context, cfg CatalogStoreConfig) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCatalogStoreWithPool(p, cfg.RecordsTable, cfg.RunsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(p pool, recordsTable, runsTable string) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if recordsTable == "" {
		recordsTable = "work_records"
	}
	if runsTable == "" {
		runsTable = "ingest_runs"
	}
	for _, t := range []string{recordsTable, runsTable} {
		if !validTableName.MatchString(t) {
			return nil, fmt.Errorf("invalid table name %q", t)
		}
	}
	return &CatalogStore{pool: p, records: recordsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertCatalog writes every record of a source in one transaction.
func (s *CatalogStore) UpsertCatalog(ctx context.Context, sourceID string, records []ingest.WorkRecord) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin catalog upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, source_id, entry_number, title, author, category, engine, streaming,
	forum_url, download_url, author_comment, host_comment, icon, banner, screenshots
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (id) DO UPDATE SET
	entry_number = EXCLUDED.entry_number,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	category = EXCLUDED.category,
	engine = EXCLUDED.engine,
	streaming = EXCLUDED.streaming,
	forum_url = EXCLUDED.forum_url,
	download_url = EXCLUDED.download_url,
	author_comment = EXCLUDED.author_comment,
	host_comment = EXCLUDED.host_comment,
	icon = EXCLUDED.icon,
	banner = EXCLUDED.banner,
	screenshots = EXCLUDED.screenshots`, s.records)

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record id is required")
		}
		screenshots := r.Screenshots
		if screenshots == nil {
			screenshots = []string{}
		}
		if _, err = tx.Exec(ctx, query,
			r.ID, sourceID, r.Number, r.Title, r.Author, r.Category, r.Engine, r.Streaming,
			r.ForumURL, r.DownloadURL, r.AuthorComment, r.HostComment, r.Icon, r.Banner, screenshots,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit catalog upsert: %w", err)
	}
	return nil
}

// RecordRun stores the outcome of one run.
func (s *CatalogStore) RecordRun(ctx context.Context, summary audit.Summary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, source_id, started_at, finished_at, status, error, entries, captured, errored, assets_stored
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	entries = EXCLUDED.entries,
	captured = EXCLUDED.captured,
	errored = EXCLUDED.errored,
	assets_stored = EXCLUDED.assets_stored`, s.runs)

	var errMsg *string
	if summary.Error != "" {
		errMsg = &summary.Error
	}
	if _, err := s.pool.Exec(ctx, query,
		summary.RunID,
		summary.SourceID,
		summary.StartedAt,
		summary.FinishedAt,
		summary.Status,
		errMsg,
		summary.Totals.Entries,
		summary.Totals.Captured,
		summary.Totals.Errored,
		summary.Totals.AssetsStored,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
