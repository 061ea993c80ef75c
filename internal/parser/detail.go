package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/wayback"
)

// hoverImage pulls quoted image paths out of onmouseover-style handlers.
var hoverImage = regexp.MustCompile(`(?i)['"]([^'"\s]+\.(?:png|jpe?g|gif|bmp))['"]`)

var hoverAttrs = []string{"onmouseover", "onmouseout", "onmouseenter", "onmouseleave", "onclick"}

// ParseDetail extracts long-form fields, links and screenshot references
// from an entry page. A page that cannot be parsed yields empty fields.
func ParseDetail(resolved ingest.Resolved, profile ingest.DetailProfile) ingest.DetailFields {
	if len(resolved.Body) == 0 {
		return ingest.DetailFields{}
	}
	p, err := load(resolved)
	if err != nil {
		return ingest.DetailFields{}
	}
	selector := profile.ContentSelector
	if selector == "" {
		selector = "body"
	}
	content := p.doc.Find(selector)
	if content.Length() == 0 {
		content = p.doc.Selection
	}

	var fields ingest.DetailFields
	labeled := p.labeledValues(content, profile.Labels)
	fields.Author = labeled[ingest.FieldAuthor]
	fields.AuthorComment = labeled[ingest.FieldAuthorComment]
	fields.HostComment = labeled[ingest.FieldHostComment]

	if profile.BannerSelector != "" {
		if src, ok := content.Find(profile.BannerSelector).First().Attr("src"); ok {
			fields.BannerURL = p.absolute(src)
		}
	}
	fields.ForumURL, fields.DownloadURL = p.links(content, profile)
	fields.Screenshots = p.screenshots(content, profile, fields.BannerURL)
	return fields
}

// labeledValues finds cells that start with a label synonym. The value is
// the markup after the first <br>; without one the label prefix is
// stripped, and a bare label cell takes the next cell. First match wins
// per field.
func (p *page) labeledValues(content *goquery.Selection, labels map[string][]string) map[string]string {
	out := make(map[string]string)
	if len(labels) == 0 {
		return out
	}
	content.Find("td, th, dt").Each(func(_ int, cell *goquery.Selection) {
		if cell.Find("td, th").Length() > 0 {
			return
		}
		head := firstLine(cell)
		field, label := bestLabel(head, labels)
		if field == "" {
			field, label = containedLabel(head, labels)
		}
		if field == "" || out[field] != "" {
			return
		}
		value := afterFirstBreak(cell)
		if value == "" {
			value = stripLabel(multiline(cell.Nodes), label)
			if labelKey(value) == "" {
				value = ""
			}
		}
		if value == "" {
			if next := cell.Next(); next.Length() > 0 {
				value = multiline(next.Nodes)
			}
		}
		if value != "" {
			out[field] = value
		}
	})
	return out
}

// containedLabel tolerates decorations before the label, as in
// "■作者コメント■", but only for short label-like heads.
func containedLabel(head string, labels map[string][]string) (string, string) {
	key := labelKey(head)
	if key == "" || len([]rune(key)) > 24 {
		return "", ""
	}
	var field, label string
	for f, synonyms := range labels {
		for _, syn := range synonyms {
			sk := labelKey(syn)
			if sk == "" || !strings.Contains(key, sk) {
				continue
			}
			if len(sk) > len(labelKey(label)) || (len(sk) == len(labelKey(label)) && f < field) {
				field, label = f, syn
			}
		}
	}
	return field, label
}

// firstLine is the text of a cell up to its first <br>.
func firstLine(cell *goquery.Selection) string {
	text := multiline(cell.Nodes)
	if i := strings.Index(text, "\n"); i >= 0 {
		return text[:i]
	}
	return text
}

// afterFirstBreak renders everything after the first <br> in cell.
func afterFirstBreak(cell *goquery.Selection) string {
	var (
		after []*html.Node
		found bool
	)
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found {
				after = append(after, c)
				continue
			}
			if c.Type == html.ElementNode && c.Data == "br" {
				found = true
				continue
			}
			walk(c)
		}
		return found
	}
	for _, n := range cell.Nodes {
		walk(n)
	}
	if !found {
		return ""
	}
	return multiline(after)
}

// links returns the first forum link and the first download link.
func (p *page) links(content *goquery.Selection, profile ingest.DetailProfile) (string, string) {
	var forum, download string
	content.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		abs := p.absolute(href)
		if abs == "" {
			return true
		}
		text := strings.ToLower(collapse(fold(a.Text())))
		host := hostOf(abs)
		switch {
		case download == "" && (containsAnyFold(text, profile.DownloadText) ||
			hostMatches(host, profile.DownloadHosts) || isArchiveURL(abs)):
			download = abs
		case forum == "" && (containsAnyFold(text, profile.ForumText) || hostMatches(host, profile.ForumHosts)):
			forum = abs
		}
		return forum == "" || download == ""
	})
	return forum, download
}

// screenshots collects image references from img tags, hover-swap handlers
// and direct links, in document order and deduplicated by absolute URL.
func (p *page) screenshots(content *goquery.Selection, profile ingest.DetailProfile, banner string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	add := func(ref string) {
		abs := p.absolute(ref)
		if abs == "" || abs == banner || excluded(abs, profile.ExcludeImages) {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	content.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Nodes[0]
		if node.Data == "img" {
			if src, ok := s.Attr("src"); ok {
				add(src)
			}
		}
		for _, attr := range hoverAttrs {
			if handler, ok := s.Attr(attr); ok {
				for _, m := range hoverImage.FindAllStringSubmatch(handler, -1) {
					add(m[1])
				}
			}
		}
		if node.Data == "a" {
			if href, ok := s.Attr("href"); ok && isImageURL(p.absolute(href)) {
				add(href)
			}
		}
	})
	return out
}

func excluded(raw string, markers []string) bool {
	lower := strings.ToLower(wayback.Unwrap(raw))
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func containsAnyFold(text string, needles []string) bool {
	for _, n := range needles {
		if n = strings.ToLower(fold(n)); n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(wayback.Unwrap(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hostMatches(host string, patterns []string) bool {
	if host == "" {
		return false
	}
	for _, pattern := range patterns {
		if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" && strings.Contains(host, pattern) {
			return true
		}
	}
	return false
}
