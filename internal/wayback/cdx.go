package wayback

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// CDX queries the archive's capture index.
type CDX struct {
	base    string
	limit   int
	fetcher ingest.Fetcher
}

// NewCDX builds an index client. limit caps how many timestamps are kept.
func NewCDX(base string, limit int, fetcher ingest.Fetcher) *CDX {
	if base == "" {
		base = DefaultBase
	}
	if limit <= 0 {
		limit = 5
	}
	return &CDX{base: base, limit: limit, fetcher: fetcher}
}

// QueryURL builds the index lookup address for target.
func (c *CDX) QueryURL(target string) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("output", "json")
	q.Set("fl", "timestamp,statuscode")
	q.Add("filter", "statuscode:200")
	q.Set("collapse", "digest")
	return c.base + "/cdx/search/cdx?" + q.Encode()
}

// Timestamps returns successful capture timestamps for target, newest
// first, capped at the configured limit.
func (c *CDX) Timestamps(ctx context.Context, target string) ([]string, error) {
	resp, err := c.fetcher.Fetch(ctx, ingest.FetchRequest{URL: c.QueryURL(target), Kind: ingest.FetchBinary})
	if err != nil {
		return nil, fmt.Errorf("cdx lookup %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cdx lookup %s: status %d", target, resp.StatusCode)
	}
	return ParseTimestamps(resp.Body, c.limit)
}

// ParseTimestamps reads a JSON CDX response whose first row is the field
// header. Rows without a valid timestamp are skipped.
func ParseTimestamps(body []byte, limit int) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("cdx response is not valid JSON")
	}
	rows := gjson.ParseBytes(body).Array()
	if len(rows) <= 1 {
		return nil, nil
	}
	tsIndex := 0
	for i, name := range rows[0].Array() {
		if name.String() == "timestamp" {
			tsIndex = i
			break
		}
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cols := row.Array()
		if tsIndex >= len(cols) {
			continue
		}
		ts := cols[tsIndex].String()
		if !ValidTimestamp(ts) {
			continue
		}
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, ts)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
