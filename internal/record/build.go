// Package record assembles work records and merges them with what earlier
// runs persisted.
package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

// Assets are the public paths produced for one entry.
type Assets struct {
	Icon        string
	Banner      string
	Screenshots []string
}

// ID returns the stable identifier of an entry. Unnumbered entries are
// keyed by their normalized title.
func ID(sourceID, number, title string) string {
	if number != "" {
		return sourceID + "-" + number
	}
	return sourceID + "-u-" + NormalizeTitle(title)
}

// FileStem is the asset file stem of an entry: the raw number, or the
// unnumbered id suffix.
func FileStem(number, title string) string {
	if number != "" {
		return number
	}
	return "u-" + NormalizeTitle(title)
}

// NormalizeTitle folds width variants, lowercases and keeps only letters
// and digits so "ＳａｍｐｌｅＲＰＧ!" and "sample rpg" compare equal.
func NormalizeTitle(title string) string {
	folded := strings.ToLower(norm.NFKC.String(title))
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Build combines an index stub with detail fields and stored assets.
// Short structured values come from the index unless the profile lets the
// detail page win; long-form text only exists on the detail page.
func Build(sourceID string, stub ingest.IndexStub, detail ingest.DetailFields, assets Assets, profile ingest.Profile) ingest.WorkRecord {
	pick := func(field, index, fromDetail string) string {
		if profile.DetailWinsFor(field) {
			return firstNonEmpty(fromDetail, index)
		}
		return firstNonEmpty(index, fromDetail)
	}
	rec := ingest.WorkRecord{
		ID:            ID(sourceID, stub.Number, stub.Title),
		Source:        sourceID,
		Number:        stub.Number,
		Title:         stub.Title,
		Author:        pick(ingest.FieldAuthor, stub.Author, detail.Author),
		Category:      stub.Category,
		Engine:        stub.Engine,
		Streaming:     stub.Streaming,
		ForumURL:      pick(ingest.FieldForum, unwrap(stub.ForumURL), unwrap(detail.ForumURL)),
		DownloadURL:   pick(ingest.FieldDownload, unwrap(stub.DownloadURL), unwrap(detail.DownloadURL)),
		AuthorComment: detail.AuthorComment,
		HostComment:   detail.HostComment,
		Icon:          assets.Icon,
		Banner:        assets.Banner,
	}
	if len(assets.Screenshots) > 0 {
		rec.Screenshots = append([]string(nil), assets.Screenshots...)
	}
	return rec
}

func unwrap(raw string) string {
	if raw == "" {
		return ""
	}
	return wayback.Unwrap(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
