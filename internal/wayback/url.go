// Package wayback builds and parses Wayback Machine snapshot addresses and
// queries the CDX index for capture timestamps.
package wayback

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultBase is the public Wayback Machine endpoint.
const DefaultBase = "https://web.archive.org"

// Mode selects how the archive serves a capture.
type Mode string

// Access modes. Raw returns the original bytes, Image is the image-only
// view, and Framed is the default replay with the toolbar injected.
const (
	ModeRaw    Mode = "id_"
	ModeImage  Mode = "im_"
	ModeFramed Mode = ""
)

var (
	snapshotPath   = regexp.MustCompile(`^/web/(\d{1,14})([a-z]{2}_)?/(.+)$`)
	collapsedSlash = regexp.MustCompile(`^(?i)(https?):/+`)
	timestampRe    = regexp.MustCompile(`^\d{4,14}$`)
)

// Snapshot is a parsed archive address.
type Snapshot struct {
	Timestamp string
	Mode      Mode
	Original  string
}

// SnapshotURL builds the archive address of original at timestamp.
func SnapshotURL(base, timestamp string, mode Mode, original string) string {
	if base == "" {
		base = DefaultBase
	}
	return fmt.Sprintf("%s/web/%s%s/%s", strings.TrimRight(base, "/"), timestamp, mode, original)
}

// ValidTimestamp reports whether ts looks like a capture timestamp prefix.
func ValidTimestamp(ts string) bool {
	return timestampRe.MatchString(ts)
}

// Parse extracts the snapshot parts from an archive address. Any host is
// accepted as long as the path has the /web/<timestamp><mode>/<url> form.
func Parse(raw string) (Snapshot, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Snapshot{}, false
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	m := snapshotPath.FindStringSubmatch(path)
	if m == nil {
		return Snapshot{}, false
	}
	original, err := url.PathUnescape(m[3])
	if err != nil {
		original = m[3]
	}
	return Snapshot{
		Timestamp: m[1],
		Mode:      Mode(m[2]),
		Original:  normalizeOriginal(original),
	}, true
}

// Unwrap returns the original URL behind an archive address, or raw
// unchanged when it is not one.
func Unwrap(raw string) string {
	if snap, ok := Parse(raw); ok {
		return snap.Original
	}
	return raw
}

// SwapScheme flips http and https. ok is false for other schemes.
func SwapScheme(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "https"
	case "https":
		u.Scheme = "http"
	default:
		return "", false
	}
	return u.String(), true
}

func normalizeOriginal(original string) string {
	if collapsedSlash.MatchString(original) {
		return collapsedSlash.ReplaceAllString(original, "$1://")
	}
	if !strings.Contains(original, "://") {
		return "http://" + original
	}
	return original
}

var (
	toolbarStart = []byte("<!-- BEGIN WAYBACK TOOLBAR INSERT -->")
	toolbarEnd   = []byte("<!-- END WAYBACK TOOLBAR INSERT -->")
)

// StripToolbar removes the replay toolbar injected into framed captures.
func StripToolbar(body []byte) []byte {
	start := bytes.Index(body, toolbarStart)
	if start < 0 {
		return body
	}
	rest := body[start:]
	end := bytes.Index(rest, toolbarEnd)
	if end < 0 {
		return body
	}
	out := make([]byte, 0, len(body))
	out = append(out, body[:start]...)
	out = append(out, rest[end+len(toolbarEnd):]...)
	return out
}
