package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/storage/local"
)

// CatalogPath returns the catalog file of a source.
func CatalogPath(outputDir, sourceID string) string {
	return filepath.Join(outputDir, sourceID+".json")
}

// Load reads a catalog file. A missing file is an empty catalog.
func Load(path string) ([]ingest.WorkRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var records []ingest.WorkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return records, nil
}

// Encode renders records as a two-space indented JSON array with a
// trailing newline.
func Encode(records []ingest.WorkRecord) ([]byte, error) {
	if records == nil {
		records = []ingest.WorkRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the catalog atomically.
func Save(path string, records []ingest.WorkRecord) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	return local.WriteAtomic(path, data)
}
