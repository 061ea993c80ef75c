// Package memory keeps fetched pages in process memory for one-shot runs
// that should leave nothing on disk.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/archive-ingest/internal/storage/local"
)

// PageCache is an in-memory counterpart of local.PageCache.
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]local.Entry
}

// NewPageCache creates an empty cache.
func NewPageCache() *PageCache {
	return &PageCache{entries: make(map[string]local.Entry)}
}

// Get returns a copy of the entry stored under sourceID and key.
func (c *PageCache) Get(ctx context.Context, sourceID, key string) (local.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return local.Entry{}, false, fmt.Errorf("context canceled: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(sourceID, key)]
	if !ok {
		return local.Entry{}, false, nil
	}
	entry.Body = append([]byte(nil), entry.Body...)
	return entry, true, nil
}

// Put stores a copy of entry, replacing any previous value.
func (c *PageCache) Put(ctx context.Context, sourceID, key string, entry local.Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if sourceID == "" || key == "" {
		return fmt.Errorf("source and key are required")
	}
	entry.Body = append([]byte(nil), entry.Body...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(sourceID, key)] = entry
	return nil
}

// Len reports how many pages are cached.
func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(sourceID, key string) string {
	return sourceID + "\x00" + key
}
