package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

const maxColspan = 16

var (
	// numberToken accepts 1-3 digits with an optional "No." style prefix or
	// trailing separator. Text is NFKC-folded before matching.
	numberToken  = regexp.MustCompile(`(?i)^(?:no\.?|#|第|エントリー?)?\s*(\d{1,3})\s*(?:番|\.|:|：)?$`)
	archiveExts  = []string{".zip", ".lzh", ".rar", ".7z", ".exe", ".cab"}
	linkFields   = []string{ingest.FieldDetail, ingest.FieldForum, ingest.FieldDownload}
	structFields = []string{
		ingest.FieldTitle, ingest.FieldAuthor, ingest.FieldCategory,
		ingest.FieldEngine, ingest.FieldStreaming,
	}
)

// ParseIndex extracts one stub per entry row of a listing page. Rows
// without an entry number are skipped unless the profile allows
// unnumbered entries. A number seen twice fills the gaps of the first row.
func ParseIndex(resolved ingest.Resolved, profile ingest.IndexProfile) ([]ingest.IndexStub, error) {
	p, err := load(resolved)
	if err != nil {
		return nil, err
	}
	selector := profile.RowSelector
	if selector == "" {
		selector = "tr"
	}
	columns := make(map[string]ingest.FieldRule, len(profile.Fields))
	for field, rule := range profile.Fields {
		columns[field] = rule
	}

	var (
		stubs    []ingest.IndexStub
		position = make(map[string]int)
	)
	p.doc.Find(selector).Each(func(_ int, row *goquery.Selection) {
		if remapped, ok := headerColumns(row, profile); ok {
			// Structured fields the header does not name have no column.
			for _, field := range structFields {
				if _, named := remapped[field]; !named {
					delete(columns, field)
				}
			}
			shared := make(map[int]int)
			for _, col := range remapped {
				shared[col]++
			}
			for field, col := range remapped {
				rule := columns[field]
				rule.Column = col
				// A column headed by one field holds only that field.
				if shared[col] == 1 {
					rule.Segment = 0
				}
				columns[field] = rule
			}
			return
		}
		stub, ok := p.parseRow(row, profile, columns)
		if !ok {
			return
		}
		if stub.Number == "" {
			stubs = append(stubs, stub)
			return
		}
		if i, seen := position[stub.Number]; seen {
			stubs[i] = fillStub(stubs[i], stub)
			return
		}
		position[stub.Number] = len(stubs)
		stubs = append(stubs, stub)
	})
	return stubs, nil
}

func (p *page) parseRow(row *goquery.Selection, profile ingest.IndexProfile, columns map[string]ingest.FieldRule) (ingest.IndexStub, bool) {
	var (
		grid   []*goquery.Selection
		number string
	)
	if profile.NumberCell == ingest.NumberInHeader {
		number = entryNumber(row.Find("th").First().Text())
		grid = expandCells(row.Children().Filter("td"))
	} else {
		grid = expandCells(row.Children().Filter("td, th"))
		col := profile.NumberColumn
		if col <= 0 {
			col = 1
		}
		if col <= len(grid) {
			number = entryNumber(grid[col-1].Text())
		}
	}
	if number == "" && !profile.AllowUnnumbered {
		return ingest.IndexStub{}, false
	}

	values := make(map[string]string)
	for _, field := range structFields {
		rule, ok := columns[field]
		if !ok || rule.Column <= 0 || rule.Column > len(grid) {
			continue
		}
		pieces := segments(grid[rule.Column-1], profile.Split)
		if rule.Segment >= 0 && rule.Segment < len(pieces) {
			values[field] = pieces[rule.Segment]
		}
	}
	applyLabels(values, grid, profile)

	links := make(map[string]string)
	for _, field := range linkFields {
		rule, ok := columns[field]
		if !ok || rule.Column <= 0 || rule.Column > len(grid) {
			continue
		}
		if href, ok := grid[rule.Column-1].Find("a[href]").First().Attr("href"); ok {
			links[field] = p.absolute(href)
		}
	}
	if links[ingest.FieldDetail] == "" {
		if rule, ok := columns[ingest.FieldTitle]; ok && rule.Column > 0 && rule.Column <= len(grid) {
			if href, ok := grid[rule.Column-1].Find("a[href]").First().Attr("href"); ok {
				links[ingest.FieldDetail] = p.absolute(href)
			}
		}
	}
	if links[ingest.FieldDownload] == "" {
		links[ingest.FieldDownload] = p.archiveLink(row)
	}

	stub := ingest.IndexStub{
		Number:      number,
		Title:       values[ingest.FieldTitle],
		Author:      values[ingest.FieldAuthor],
		Category:    values[ingest.FieldCategory],
		Engine:      values[ingest.FieldEngine],
		Streaming:   values[ingest.FieldStreaming],
		DetailURL:   links[ingest.FieldDetail],
		ForumURL:    links[ingest.FieldForum],
		DownloadURL: links[ingest.FieldDownload],
		IconURL:     p.iconURL(row, grid, profile, columns),
	}
	if stub.Title == "" && stub.DetailURL == "" {
		return ingest.IndexStub{}, false
	}
	if number == "" && (stub.Title == "" || stub.DetailURL == "") {
		return ingest.IndexStub{}, false
	}
	return stub, true
}

// applyLabels fills fields from label-anchored segments such as
// "ジャンル：RPG". A labeled value replaces a positional one.
func applyLabels(values map[string]string, grid []*goquery.Selection, profile ingest.IndexProfile) {
	if len(profile.Labels) == 0 {
		return
	}
	split := profile.Split
	if split == "" {
		split = ingest.SplitBreak
	}
	found := make(map[string]bool)
	for i, cell := range grid {
		if i > 0 && grid[i-1] == cell {
			continue
		}
		for _, piece := range segments(cell, split) {
			field, label := bestLabel(piece, profile.Labels)
			if field == "" || found[field] {
				continue
			}
			if v := stripLabel(piece, label); v != "" {
				values[field] = v
				found[field] = true
			}
		}
	}
}

// bestLabel picks the field whose synonym is the longest prefix of text.
func bestLabel(text string, labels map[string][]string) (string, string) {
	var field, label string
	for f, synonyms := range labels {
		l, ok := matchLabel(text, synonyms)
		if !ok {
			continue
		}
		if len(labelKey(l)) > len(labelKey(label)) || (len(labelKey(l)) == len(labelKey(label)) && f < field) {
			field, label = f, l
		}
	}
	return field, label
}

func (p *page) iconURL(row *goquery.Selection, grid []*goquery.Selection, profile ingest.IndexProfile, columns map[string]ingest.FieldRule) string {
	if rule, ok := columns[ingest.FieldIcon]; ok && rule.Column > 0 && rule.Column <= len(grid) {
		if src, ok := grid[rule.Column-1].Find("img[src]").First().Attr("src"); ok {
			return p.absolute(src)
		}
	}
	if profile.IconSelector != "" {
		if src, ok := row.Find(profile.IconSelector).First().Attr("src"); ok {
			return p.absolute(src)
		}
	}
	return ""
}

// archiveLink returns the first row link to a downloadable archive file.
func (p *page) archiveLink(row *goquery.Selection) string {
	var out string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if abs := p.absolute(href); isArchiveURL(abs) {
			out = abs
			return false
		}
		return true
	})
	return out
}

func isArchiveURL(raw string) bool {
	lower := strings.ToLower(raw)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// headerColumns maps fields to columns when row is a header row: it
// carries no entry number and at least two distinct cells match configured
// header synonyms.
func headerColumns(row *goquery.Selection, profile ingest.IndexProfile) (map[string]int, bool) {
	if len(profile.Headers) == 0 {
		return nil, false
	}
	grid := expandCells(row.Children().Filter("td, th"))
	if profile.NumberCell == ingest.NumberInHeader {
		grid = expandCells(row.Children().Filter("td"))
	}
	if len(grid) == 0 || entryNumber(grid[0].Text()) != "" || entryNumber(row.Find("th").First().Text()) != "" {
		return nil, false
	}
	mapping := make(map[string]int)
	for i, cell := range grid {
		if i > 0 && grid[i-1] == cell {
			continue
		}
		text := cell.Text()
		for field, synonyms := range profile.Headers {
			if _, done := mapping[field]; done {
				continue
			}
			if headerMatches(text, synonyms) {
				mapping[field] = i + 1
			}
		}
	}
	distinct := make(map[int]struct{}, len(mapping))
	for _, col := range mapping {
		distinct[col] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, false
	}
	return mapping, true
}

// headerMatches is bracket tolerant and accepts combined headers such as
// "タイトル/作者".
func headerMatches(text string, synonyms []string) bool {
	key := labelKey(text)
	for _, syn := range synonyms {
		if sk := labelKey(syn); sk != "" && strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

// expandCells repeats each cell by its colspan so indexes line up with
// visual columns.
func expandCells(cells *goquery.Selection) []*goquery.Selection {
	var grid []*goquery.Selection
	cells.Each(func(_ int, cell *goquery.Selection) {
		span := 1
		if raw, ok := cell.Attr("colspan"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 1 {
				span = min(n, maxColspan)
			}
		}
		for i := 0; i < span; i++ {
			grid = append(grid, cell)
		}
	})
	return grid
}

// entryNumber returns the digits of a number token, keeping leading zeros.
func entryNumber(text string) string {
	m := numberToken.FindStringSubmatch(collapse(fold(text)))
	if m == nil {
		return ""
	}
	return m[1]
}

// fillStub copies fields from next into the empty fields of prev.
func fillStub(prev, next ingest.IndexStub) ingest.IndexStub {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&prev.Title, next.Title)
	fill(&prev.Author, next.Author)
	fill(&prev.Category, next.Category)
	fill(&prev.Engine, next.Engine)
	fill(&prev.Streaming, next.Streaming)
	fill(&prev.DetailURL, next.DetailURL)
	fill(&prev.ForumURL, next.ForumURL)
	fill(&prev.DownloadURL, next.DownloadURL)
	fill(&prev.IconURL, next.IconURL)
	return prev
}
