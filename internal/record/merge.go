package record

import (
	"sort"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// Merge keeps every non-empty field of prev and fills its gaps from next.
// Asset paths are the exception: a non-empty next value wins because the
// files behind it were just rewritten.
func Merge(prev, next ingest.WorkRecord) ingest.WorkRecord {
	out := prev
	keep := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	keep(&out.ID, next.ID)
	keep(&out.Source, next.Source)
	keep(&out.Number, next.Number)
	keep(&out.Title, next.Title)
	keep(&out.Author, next.Author)
	keep(&out.Category, next.Category)
	keep(&out.Engine, next.Engine)
	keep(&out.Streaming, next.Streaming)
	keep(&out.ForumURL, next.ForumURL)
	keep(&out.DownloadURL, next.DownloadURL)
	keep(&out.AuthorComment, next.AuthorComment)
	keep(&out.HostComment, next.HostComment)

	if next.Icon != "" {
		out.Icon = next.Icon
	}
	if next.Banner != "" {
		out.Banner = next.Banner
	}
	if len(next.Screenshots) > 0 {
		out.Screenshots = append([]string(nil), next.Screenshots...)
	} else if len(prev.Screenshots) > 0 {
		out.Screenshots = append([]string(nil), prev.Screenshots...)
	}
	return out
}

// MergeCatalog merges a run's records into the previous catalog. Records
// match by ID, then by a unique normalized title. Previous records the run
// did not produce are kept. Unnumbered records that share a title with
// exactly one numbered record are folded into it. The result is sorted.
func MergeCatalog(prev, next []ingest.WorkRecord) []ingest.WorkRecord {
	out := make([]ingest.WorkRecord, 0, len(prev)+len(next))
	out = append(out, prev...)

	byID := make(map[string]int, len(out))
	for i, r := range out {
		byID[r.ID] = i
	}
	matched := make(map[int]bool)
	for _, n := range next {
		if i, ok := byID[n.ID]; ok {
			out[i] = Merge(out[i], n)
			matched[i] = true
			continue
		}
		if i, ok := uniqueTitle(out, n, matched); ok {
			out[i] = mergeIdentity(out[i], n)
			matched[i] = true
			byID[out[i].ID] = i
			continue
		}
		out = append(out, n)
		byID[n.ID] = len(out) - 1
		matched[len(out)-1] = true
	}
	out = foldUnnumbered(out)
	Sort(out)
	return out
}

// uniqueTitle finds the single not yet matched record with n's normalized
// title.
func uniqueTitle(records []ingest.WorkRecord, n ingest.WorkRecord, matched map[int]bool) (int, bool) {
	key := NormalizeTitle(n.Title)
	if key == "" {
		return 0, false
	}
	found := -1
	for i, r := range records {
		if matched[i] || r.Source != n.Source || NormalizeTitle(r.Title) != key {
			continue
		}
		if found >= 0 {
			return 0, false
		}
		found = i
	}
	return found, found >= 0
}

// mergeIdentity merges two representations of one work. The numbered one
// supplies the identity; previously recorded values still win.
func mergeIdentity(prev, next ingest.WorkRecord) ingest.WorkRecord {
	merged := Merge(prev, next)
	if prev.Number == "" && next.Number != "" {
		merged.ID, merged.Number = next.ID, next.Number
	}
	return merged
}

func foldUnnumbered(records []ingest.WorkRecord) []ingest.WorkRecord {
	numbered := make(map[string][]int)
	for i, r := range records {
		if r.Number != "" {
			key := r.Source + "\x00" + NormalizeTitle(r.Title)
			numbered[key] = append(numbered[key], i)
		}
	}
	drop := make(map[int]bool)
	for i, r := range records {
		if r.Number != "" {
			continue
		}
		targets := numbered[r.Source+"\x00"+NormalizeTitle(r.Title)]
		if len(targets) != 1 {
			continue
		}
		records[targets[0]] = Merge(records[targets[0]], r)
		drop[i] = true
	}
	if len(drop) == 0 {
		return records
	}
	out := records[:0]
	for i, r := range records {
		if !drop[i] {
			out = append(out, r)
		}
	}
	return out
}

// Sort orders records by numeric entry number, then raw number, then
// title. Unnumbered records come last.
func Sort(records []ingest.WorkRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		an, aok := ingest.ParseEntryNumber(a.Number)
		bn, bok := ingest.ParseEntryNumber(b.Number)
		switch {
		case aok != bok:
			return aok
		case aok && an != bn:
			return an < bn
		case a.Number != b.Number:
			return a.Number < b.Number
		case a.Title != b.Title:
			return a.Title < b.Title
		default:
			return a.ID < b.ID
		}
	})
}
