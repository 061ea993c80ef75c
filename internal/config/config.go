// Package config loads and validates ingester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/logging"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
	"github.com/JakeFAU/archive-ingest/internal/parser"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

// Config captures all ingester configuration knobs loaded via Viper.
type Config struct {
	Logging  logging.Config            `mapstructure:"logging"`
	HTTP     HTTPConfig                `mapstructure:"http"`
	Archive  ArchiveConfig             `mapstructure:"archive"`
	Paths    PathsConfig               `mapstructure:"paths"`
	Cache    CacheConfig               `mapstructure:"cache"`
	Run      RunConfig                 `mapstructure:"run"`
	Assets   AssetsConfig              `mapstructure:"assets"`
	DB       DBConfig                  `mapstructure:"db"`
	Server   ServerConfig              `mapstructure:"server"`
	Metrics  MetricsConfig             `mapstructure:"metrics"`
	Profiles map[string]ingest.Profile `mapstructure:"profiles"`
	Sources  []ingest.Source           `mapstructure:"sources"`
}

// HTTPConfig configures fetching and per-candidate retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BackoffMs      int     `mapstructure:"backoff_ms"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// ArchiveConfig controls snapshot and proxy candidate expansion.
type ArchiveConfig struct {
	WaybackBase        string   `mapstructure:"wayback_base"`
	CDXLimit           int      `mapstructure:"cdx_limit"`
	DisableCDX         bool     `mapstructure:"disable_cdx"`
	Proxies            []string `mapstructure:"proxies"`
	PlaceholderMarkers []string `mapstructure:"placeholder_markers"`
}

// PathsConfig locates every directory the ingester reads or writes.
type PathsConfig struct {
	CacheDir     string `mapstructure:"cache_dir"`
	OutputDir    string `mapstructure:"output_dir"`
	AuditDir     string `mapstructure:"audit_dir"`
	AssetsDir    string `mapstructure:"assets_dir"`
	PublicPrefix string `mapstructure:"public_prefix"`
}

// Page cache backends.
const (
	CacheLocal  = "local"
	CacheMemory = "memory"
)

// CacheConfig selects where fetched pages are kept between runs.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
}

// RunConfig governs the per-source orchestrator.
type RunConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	Refresh     bool `mapstructure:"refresh"`
}

// AssetsConfig holds the global image thresholds.
type AssetsConfig struct {
	SmallPx           int `mapstructure:"small_px"`
	HighQualityWidth  int `mapstructure:"high_quality_width"`
	HighQualityHeight int `mapstructure:"high_quality_height"`
	MaxScreenshots    int `mapstructure:"max_screenshots"`
}

// DBConfig controls the optional Postgres catalog mirror.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ServerConfig controls the operator status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MetricsConfig controls pushing run metrics after a one-shot ingest.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_ms", 500)
	v.SetDefault("http.user_agent", "archive-ingest/0.1")
	v.SetDefault("http.per_host_rps", 2.0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("http.max_body_bytes", 32<<20)
	v.SetDefault("archive.wayback_base", wayback.DefaultBase)
	v.SetDefault("archive.cdx_limit", 5)
	v.SetDefault("archive.placeholder_markers", []string{
		"Wayback Machine doesn't have that page archived",
		"このページは存在しません",
		"このスレッドは過去ログ倉庫に格納されています",
		"年齢認証",
		"閉鎖しました",
	})
	v.SetDefault("paths.cache_dir", "data/cache")
	v.SetDefault("paths.output_dir", "data/catalog")
	v.SetDefault("paths.audit_dir", "data/audit")
	v.SetDefault("paths.assets_dir", "public/assets")
	v.SetDefault("paths.public_prefix", "/assets")
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.refresh", false)
	v.SetDefault("assets.small_px", 100)
	v.SetDefault("assets.high_quality_width", 400)
	v.SetDefault("assets.high_quality_height", 300)
	v.SetDefault("assets.max_screenshots", 4)
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.backend", CacheLocal)
	v.SetDefault("metrics.job", metrics.DefaultJob)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffMs < 0 {
		return fmt.Errorf("http.backoff_ms must be >= 0")
	}
	if c.Run.Concurrency <= 0 || c.Run.Concurrency > 32 {
		return fmt.Errorf("run.concurrency must be between 1 and 32")
	}
	if c.Paths.OutputDir == "" || c.Paths.AuditDir == "" || c.Paths.AssetsDir == "" {
		return fmt.Errorf("paths.output_dir, paths.audit_dir and paths.assets_dir are required")
	}
	switch c.Cache.Backend {
	case CacheLocal:
		if c.Paths.CacheDir == "" {
			return fmt.Errorf("paths.cache_dir is required for the local cache")
		}
	case CacheMemory:
	default:
		return fmt.Errorf("cache.backend must be %q or %q", CacheLocal, CacheMemory)
	}
	if c.Assets.MaxScreenshots <= 0 {
		return fmt.Errorf("assets.max_screenshots must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Metrics.PushgatewayURL != "" {
		u, err := url.Parse(c.Metrics.PushgatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("metrics.pushgateway_url must be an http(s) URL")
		}
	}
	for _, p := range c.Archive.Proxies {
		if !strings.Contains(p, "{url}") && !strings.Contains(p, "{escaped}") {
			return fmt.Errorf("archive.proxies entry %q needs a {url} or {escaped} placeholder", p)
		}
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if strings.ContainsAny(s.ID, `/\`) {
			return fmt.Errorf("sources[%d].id %q must be a plain name", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = true
		if len(s.Locations) == 0 {
			return fmt.Errorf("source %s: locations are required", s.ID)
		}
		if _, err := c.Profile(s); err != nil {
			return fmt.Errorf("source %s: %w", s.ID, err)
		}
	}
	return nil
}

// Source returns the configured source with id.
func (c Config) Source(id string) (ingest.Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return ingest.Source{}, false
}

// Profile resolves the parsing profile a source names.
func (c Config) Profile(s ingest.Source) (ingest.Profile, error) {
	name := s.Profile
	if name == "" {
		name = parser.DefaultProfile
	}
	return parser.ResolveProfile(name, c.Profiles)
}

// FetchTimeout is the per-attempt fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff is the base delay of the linear retry schedule.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.HTTP.BackoffMs) * time.Millisecond
}
