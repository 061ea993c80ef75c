// Package audit records what each run did per source: entry outcomes, asset
// notes and totals, written as timestamped JSON files for operators.
package audit

import (
	"time"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// Statuses. Entries are either ok or error; a run is partial when some of
// its entries errored or lost assets.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Reasons qualify an entry in error.
const (
	// ReasonDegraded keeps a record built without its detail page.
	ReasonDegraded = "degraded"
	// ReasonCanceled marks an entry the run stopped before reaching. It
	// produces no record.
	ReasonCanceled = "canceled"
	// ReasonPanic keeps a stub record for an entry whose processing panicked.
	ReasonPanic = "panic"
)

// Entry is the outcome of one index row.
type Entry struct {
	ID             string             `json:"id"`
	Number         string             `json:"number,omitempty"`
	Title          string             `json:"title"`
	Status         string             `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	DetailLocation string             `json:"detailLocation,omitempty"`
	Error          string             `json:"error,omitempty"`
	Skipped        []ingest.AssetNote `json:"skipped,omitempty"`
	Failures       []ingest.AssetNote `json:"failures,omitempty"`
}

// Totals aggregates entry and asset counts.
type Totals struct {
	Entries        int `json:"entries"`
	Captured       int `json:"captured"`
	Errored        int `json:"errored"`
	AssetsStored   int `json:"assetsStored"`
	AssetsSkipped  int `json:"assetsSkipped"`
	AssetsFailed   int `json:"assetsFailed"`
	CatalogRecords int `json:"catalogRecords"`
}

// Summary is the per-run operator report of one source.
type Summary struct {
	SourceID      string    `json:"sourceId"`
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Status        string    `json:"status"`
	IndexLocation string    `json:"indexLocation,omitempty"`
	Error         string    `json:"error,omitempty"`
	Entries       []Entry   `json:"entries"`
	Totals        Totals    `json:"totals"`
}

// Add appends an entry and updates the totals. stored is the number of
// asset files written for it.
func (s *Summary) Add(entry Entry, stored int) {
	s.Entries = append(s.Entries, entry)
	s.Totals.Entries++
	if entry.Status == StatusOK {
		s.Totals.Captured++
	} else {
		s.Totals.Errored++
	}
	s.Totals.AssetsStored += stored
	s.Totals.AssetsSkipped += len(entry.Skipped)
	s.Totals.AssetsFailed += len(entry.Failures)
}

// Finalize derives the run status from the entry outcomes unless a
// terminal error was already recorded.
func (s *Summary) Finalize(finished time.Time) {
	s.FinishedAt = finished
	if s.Entries == nil {
		s.Entries = []Entry{}
	}
	if s.Status == StatusError {
		return
	}
	if s.Totals.Errored > 0 || s.Totals.AssetsFailed > 0 {
		s.Status = StatusPartial
		return
	}
	s.Status = StatusOK
}

// Fail marks the run as terminally failed.
func (s *Summary) Fail(err error) {
	s.Status = StatusError
	if err != nil {
		s.Error = err.Error()
	}
}
