// Package parser extracts entry stubs and detail fields from archived
// listing and entry pages.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/textenc"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
}

// page is a decoded document plus the location relative references
// resolve against.
type page struct {
	doc  *goquery.Document
	base *url.URL
}

// load decodes the body to UTF-8, drops the archive toolbar and parses it.
func load(resolved ingest.Resolved) (*page, error) {
	text, err := textenc.ToUTF8(wayback.StripToolbar(resolved.Body), resolved.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	p := &page{doc: doc}
	if resolved.Location != "" {
		if base, err := url.Parse(resolved.Location); err == nil {
			p.base = base
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && p.base != nil {
		if u, err := url.Parse(strings.TrimSpace(href)); err == nil {
			p.base = p.base.ResolveReference(u)
		}
	}
	return p, nil
}

// absolute resolves ref against the page location. Relative references on
// an archived page stay inside the same capture so their timestamp survives.
func (p *page) absolute(ref string) string {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if ref == "" || strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	if p.base == nil {
		if u.IsAbs() {
			return u.String()
		}
		return ""
	}
	if !u.IsAbs() && !strings.HasPrefix(u.Path, "/web/") {
		if snap, ok := wayback.Parse(p.base.String()); ok {
			if orig, err := url.Parse(snap.Original); err == nil {
				resolved := orig.ResolveReference(u)
				archive := p.base.Scheme + "://" + p.base.Host
				return wayback.SnapshotURL(archive, snap.Timestamp, snap.Mode, resolved.String())
			}
		}
	}
	return p.base.ResolveReference(u).String()
}

// isImageURL reports whether the path of raw ends in a known image
// extension. Archive addresses are judged by their original.
func isImageURL(raw string) bool {
	raw = wayback.Unwrap(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	_, ok := imageExts[strings.ToLower(path.Ext(u.Path))]
	return ok
}
