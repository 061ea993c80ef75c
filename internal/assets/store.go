package assets

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// File is one validated asset ready to be written.
type File struct {
	Name      string
	Data      []byte
	SourceURL string
	Width     int
	Height    int
}

// Store writes assets under <root>/<kind>/<source>/ and serializes
// purge-and-write per entry.
type Store struct {
	root   string
	prefix string
	locks  sync.Map
}

// NewStore creates the asset root when missing. prefix is prepended to the
// root-relative paths stored on records.
func NewStore(root, prefix string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return &Store{root: root, prefix: prefix}, nil
}

// Replace purges every file previously stored for the entry in this slot
// and writes files in their place.
func (s *Store) Replace(sourceID, entryID string, kind ingest.AssetKind, files []File) ([]ingest.StoredAsset, error) {
	if err := validStem(sourceID); err != nil {
		return nil, fmt.Errorf("source id: %w", err)
	}
	if err := validStem(entryID); err != nil {
		return nil, fmt.Errorf("entry id: %w", err)
	}
	unlock := s.lock(sourceID, entryID, kind)
	defer unlock()

	dir := filepath.Join(s.root, string(kind), sourceID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := purge(dir, entryID); err != nil {
		return nil, err
	}

	stored := make([]ingest.StoredAsset, 0, len(files))
	for _, f := range files {
		target := filepath.Join(dir, f.Name)
		if err := os.WriteFile(target, f.Data, 0o600); err != nil {
			return stored, fmt.Errorf("write %s: %w", target, err)
		}
		stored = append(stored, ingest.StoredAsset{
			Kind:       kind,
			SourceURL:  f.SourceURL,
			FilePath:   target,
			PublicPath: path.Join(s.prefix, string(kind), sourceID, f.Name),
			Width:      f.Width,
			Height:     f.Height,
		})
	}
	return stored, nil
}

func (s *Store) lock(sourceID, entryID string, kind ingest.AssetKind) func() {
	key := string(kind) + "/" + sourceID + "/" + entryID
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu, _ := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// FileName returns the on-disk name of the seq-th (1-based) asset of an
// entry: the bare entry id first, then a two-digit suffix.
func FileName(entryID string, seq int, ext string) string {
	if seq <= 1 {
		return entryID + "." + ext
	}
	return fmt.Sprintf("%s_%02d.%s", entryID, seq, ext)
}

func entryPattern(entryID string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(entryID) + `(?:_\d+)?\.(?:png|jpg|jpeg|gif|bmp)$`)
}

// matching lists the entry's files in dir. Names sharing only a prefix
// ("1" and "10.png") do not match.
func matching(dir, entryID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	pattern := entryPattern(entryID)
	var out []string
	for _, e := range entries {
		if !e.IsDir() && pattern.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func purge(dir, entryID string) error {
	names, err := matching(dir, entryID)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("purge %s: %w", n, err)
		}
	}
	return nil
}

func validStem(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return errors.New("empty")
	case strings.ContainsAny(s, `/\`), s == ".", s == "..":
		return fmt.Errorf("%q is not a plain name", s)
	}
	return nil
}
