// Package ingest defines the core types shared across the ingestion pipeline.
package ingest

import (
	"net/http"
	"strconv"
	"time"
)

// AssetKind names a slot an asset fills on a record.
type AssetKind string

// Supported asset kinds. The string value doubles as the directory name.
const (
	AssetIcon       AssetKind = "icons"
	AssetScreenshot AssetKind = "screenshots"
	AssetBanner     AssetKind = "banners"
)

// FetchKind tells the resolver what the caller expects back.
type FetchKind string

// Fetch kinds; only pages are checked against placeholder markers.
const (
	FetchPage   FetchKind = "page"
	FetchBinary FetchKind = "binary"
)

// Source identifies one historical event archive. Sources come from
// configuration and are never mutated at runtime.
type Source struct {
	ID         string   `mapstructure:"id" json:"id"`
	Label      string   `mapstructure:"label" json:"label"`
	Locations  []string `mapstructure:"locations" json:"locations"`
	IndexPaths []string `mapstructure:"index_paths" json:"index_paths"`
	// Timestamps are known Wayback capture times (YYYYMMDDhhmmss or a prefix).
	Timestamps []string `mapstructure:"timestamps" json:"timestamps,omitempty"`
	Profile    string   `mapstructure:"profile" json:"profile"`
}

// IndexStub is one row extracted from a listing page.
type IndexStub struct {
	Number      string
	Title       string
	Author      string
	Category    string
	Engine      string
	Streaming   string
	DetailURL   string
	ForumURL    string
	DownloadURL string
	IconURL     string
}

// DetailFields holds the supplementary data scraped from an entry page.
type DetailFields struct {
	Author        string
	AuthorComment string
	HostComment   string
	ForumURL      string
	DownloadURL   string
	BannerURL     string
	Screenshots   []string
}

// AssetCandidate is a fetched binary under evaluation by the asset pipeline.
type AssetCandidate struct {
	URL    string
	Body   []byte
	Format string
	Width  int
	Height int
	Hash   string
}

// StoredAsset is a persisted file referenced by a record.
type StoredAsset struct {
	Kind      AssetKind
	SourceURL string
	// FilePath is the absolute location on disk.
	FilePath string
	// PublicPath is the root-relative path stored on the record.
	PublicPath string
	Width      int
	Height     int
}

// AssetNote records why a candidate was not kept.
type AssetNote struct {
	Kind   AssetKind `json:"kind"`
	URL    string    `json:"url"`
	Reason string    `json:"reason"`
}

// Skip and failure reasons reported in audit notes.
const (
	ReasonSmall      = "small"
	ReasonDuplicate  = "duplicate"
	ReasonLowQuality = "low_quality"
	ReasonOverLimit  = "over_limit"
	ReasonNotImage   = "not_image"
	ReasonFetch      = "fetch_failed"
	ReasonWrite      = "write_failed"
)

// AssetResult is the outcome of materializing one asset slot.
type AssetResult struct {
	Paths    []string
	Stored   []StoredAsset
	Skipped  []AssetNote
	Failures []AssetNote
}

// WorkRecord is the normalized catalog unit persisted per source.
type WorkRecord struct {
	ID            string   `json:"id"`
	Source        string   `json:"source"`
	Number        string   `json:"number,omitempty"`
	Title         string   `json:"title"`
	Author        string   `json:"author,omitempty"`
	Category      string   `json:"category,omitempty"`
	Engine        string   `json:"engine,omitempty"`
	Streaming     string   `json:"streaming,omitempty"`
	ForumURL      string   `json:"forumUrl,omitempty"`
	DownloadURL   string   `json:"downloadUrl,omitempty"`
	AuthorComment string   `json:"authorComment,omitempty"`
	HostComment   string   `json:"hostComment,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	Banner        string   `json:"banner,omitempty"`
	Screenshots   []string `json:"screenshots,omitempty"`
}

// FetchRequest captures everything needed to fetch one candidate URL.
type FetchRequest struct {
	URL     string
	Kind    FetchKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Resolved is fetched content plus the location it actually came from.
type Resolved struct {
	Body        []byte
	Location    string
	ContentType string
	FromCache   bool
}

// ParseEntryNumber parses a raw entry number token.
func ParseEntryNumber(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
