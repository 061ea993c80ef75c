package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun = regexp.MustCompile(`[\s\x{3000}\x{00a0}]+`)
	// Brackets and separators that may wrap or follow a label.
	labelPunct = "[]【】「」『』()（）<>＜＞《》〈〉■□◆◇●○・★☆:：-－=＝/／|｜"
)

// collapse trims and folds internal whitespace runs into one space.
func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// fold applies NFKC so full-width digits and letters compare as ASCII.
func fold(s string) string {
	return norm.NFKC.String(s)
}

// labelKey reduces text to the form used for label comparison.
func labelKey(s string) string {
	s = strings.ToLower(fold(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(labelPunct, r) {
			return -1
		}
		return r
	}, s)
}

// matchLabel returns the longest synonym that text starts with after
// normalization.
func matchLabel(text string, synonyms []string) (string, bool) {
	key := labelKey(text)
	best := ""
	for _, syn := range synonyms {
		sk := labelKey(syn)
		if sk == "" || !strings.HasPrefix(key, sk) {
			continue
		}
		if len(sk) > len(labelKey(best)) {
			best = syn
		}
	}
	return best, best != ""
}

// stripLabel removes a leading label plus any bracket or separator
// characters around it.
func stripLabel(text, label string) string {
	text = collapse(fold(text))
	text = strings.TrimLeft(text, labelPunct+" ")
	flabel := fold(label)
	if strings.HasPrefix(strings.ToLower(text), strings.ToLower(flabel)) {
		text = text[len(flabel):]
	}
	return strings.TrimSpace(strings.TrimLeft(text, labelPunct+" "))
}

// segments splits a cell into text pieces. With SplitBreak pieces are
// separated by <br>; with SplitSpan every <span> becomes its own piece.
// Empty pieces are dropped.
func segments(cell *goquery.Selection, mode string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if text := collapse(current.String()); text != "" {
			out = append(out, text)
		}
		current.Reset()
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			current.WriteString(n.Data)
			return
		case html.ElementNode:
			switch {
			case n.Data == "br" && mode != "":
				flush()
				return
			case n.Data == "span" && mode == "span":
				flush()
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
				flush()
				return
			case n.Data == "script" || n.Data == "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range cell.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	flush()
	return out
}

// multiline renders nodes as text where <br> and block ends become
// newlines. Lines are collapsed and blank edges trimmed.
func multiline(nodes []*html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "br":
				b.WriteString("\n")
				return
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "div") {
			b.WriteString("\n")
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	lines := strings.Split(b.String(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		kept = append(kept, collapse(line))
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}
