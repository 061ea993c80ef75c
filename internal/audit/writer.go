package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/archive-ingest/internal/storage/local"
)

// LatestName is the file that always holds the most recent summary.
const LatestName = "latest.json"

// ErrNoSummary is returned when a source has never been audited.
var ErrNoSummary = errors.New("no audit summary")

const stampLayout = "20060102T150405.000Z"

// Writer persists summaries under <dir>/<sourceId>/.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write stores the summary as <runTimestamp>-<runId>.json and refreshes
// latest.json. It returns the timestamped path.
func (w *Writer) Write(summary Summary) (string, error) {
	if err := validSource(summary.SourceID); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Join(w.dir, summary.SourceID)
	path := filepath.Join(dir, summaryName(summary))
	if err := local.WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	if err := local.WriteAtomic(filepath.Join(dir, LatestName), data); err != nil {
		return path, fmt.Errorf("write latest summary: %w", err)
	}
	return path, nil
}

// Latest reads the most recent summary of a source.
func (w *Writer) Latest(sourceID string) (Summary, error) {
	if err := validSource(sourceID); err != nil {
		return Summary{}, err
	}
	path := filepath.Join(w.dir, sourceID, LatestName)
	data, err := os.ReadFile(path) // #nosec G304 -- sourceID is a plain name.
	if errors.Is(err, fs.ErrNotExist) {
		return Summary{}, fmt.Errorf("%s: %w", sourceID, ErrNoSummary)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("read summary: %w", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return summary, nil
}

func summaryName(summary Summary) string {
	name := summary.StartedAt.UTC().Format(stampLayout)
	runID := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, summary.RunID)
	if runID != "" {
		name += "-" + runID
	}
	return name + ".json"
}

func validSource(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid source id %q", id)
	}
	return nil
}
