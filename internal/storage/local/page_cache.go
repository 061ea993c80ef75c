// Package local implements the on-disk cache of fetched pages and assets.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

// Config captures the parameters for the page cache.
type Config struct {
	// BaseDir is the root directory; entries live under BaseDir/<source>/.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Meta is stored beside each cached body so offline runs resolve relative
// references against the same location the live run did.
type Meta struct {
	Location    string `json:"location"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
}

// Entry is one cached body with its metadata.
type Entry struct {
	Body []byte
	Meta Meta
}

// PageCache stores verbatim fetch results keyed by source and page name.
// Distinct keys may be read and written concurrently.
type PageCache struct {
	baseDir string
}

// New creates a cache rooted at cfg.BaseDir, creating it when missing and
// verifying it is writable.
func New(cfg Config) (*PageCache, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}

	marker, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := marker.Name()
	if err := marker.Close(); err != nil {
		return nil, fmt.Errorf("close marker file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("failed to clean up marker file: %w", err)
	}

	return &PageCache{baseDir: cfg.BaseDir}, nil
}

// Get returns the cached entry for key, with ok=false when absent.
func (c *PageCache) Get(ctx context.Context, sourceID, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, fmt.Errorf("context canceled: %w", err)
	}
	path, err := c.entryPath(sourceID, key)
	if err != nil {
		return Entry{}, false, err
	}
	body, err := os.ReadFile(path) // #nosec G304 -- path is confined to baseDir by entryPath.
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry %s: %w", path, err)
	}
	entry := Entry{Body: body}
	rawMeta, err := os.ReadFile(path + metaSuffix) // #nosec G304 -- see above.
	switch {
	case err == nil:
		if err := json.Unmarshal(rawMeta, &entry.Meta); err != nil {
			return Entry{}, false, fmt.Errorf("decode cache meta %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Entry{}, false, fmt.Errorf("read cache meta %s: %w", path, err)
	}
	return entry, true, nil
}

// Put writes entry for key. Bodies are written through a temp file and
// renamed so a reader never sees a partial page.
func (c *PageCache) Put(ctx context.Context, sourceID, key string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	path, err := c.entryPath(sourceID, key)
	if err != nil {
		return err
	}
	if err := WriteAtomic(path, entry.Body); err != nil {
		return err
	}
	meta, err := json.MarshalIndent(entry.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}
	return WriteAtomic(path+metaSuffix, meta)
}

func (c *PageCache) entryPath(sourceID, key string) (string, error) {
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("source and key are required")
	}
	fullPath := filepath.Join(c.baseDir, sourceID, key)

	// Verify the path stays within baseDir to prevent traversal.
	cleanBaseDir := filepath.Clean(c.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// WriteAtomic writes data through a temp file in the target directory and
// renames it over path, creating the directory when missing.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	// CreateTemp uses 0600; published files must be world readable.
	if err := os.Chmod(tmpName, 0o644); err != nil { // #nosec G302 -- catalog and summaries are public output.
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
