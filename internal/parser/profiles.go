package parser

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// DefaultProfile is used when a source names no profile.
const DefaultProfile = "columns"

var commonDetail = ingest.DetailProfile{
	ContentSelector: "body",
	Labels: map[string][]string{
		ingest.FieldAuthor:        {"作者", "制作者", "作者名", "製作者"},
		ingest.FieldAuthorComment: {"作者コメント", "作者のコメント", "作者より", "作者から一言", "コメント"},
		ingest.FieldHostComment:   {"主催コメント", "主催者コメント", "主催より", "管理人コメント", "運営コメント"},
	},
	ExcludeImages: []string{"counter", "count.cgi", "/icon/", "/icons/", "spacer", "access.cgi"},
	ForumText:     []string{"感想", "掲示板", "bbs", "スレッド"},
	ForumHosts:    []string{"jbbs", "shitaraba", "2ch.net", "bbs."},
	DownloadText:  []string{"ダウンロード", "download"},
	DownloadHosts: []string{"axfc.net", "vector.co.jp", "freem.ne.jp", "dropbox", "firestorage", "mediafire"},
}

var commonHeaders = map[string][]string{
	ingest.FieldTitle:     {"タイトル", "作品名", "title"},
	ingest.FieldAuthor:    {"作者", "制作者", "author"},
	ingest.FieldCategory:  {"ジャンル", "genre"},
	ingest.FieldEngine:    {"使用ツール", "ツール", "エンジン", "tool"},
	ingest.FieldStreaming: {"配信", "実況", "動画"},
}

// Builtins are the shipped profiles. Configuration may add profiles or
// override these by name.
var Builtins = map[string]ingest.Profile{
	"columns": {
		Name: "columns",
		Index: ingest.IndexProfile{
			RowSelector:  "tr",
			NumberCell:   ingest.NumberInData,
			NumberColumn: 1,
			Split:        ingest.SplitBreak,
			Fields: map[string]ingest.FieldRule{
				ingest.FieldTitle:     {Column: 2, Segment: 0},
				ingest.FieldAuthor:    {Column: 2, Segment: 1},
				ingest.FieldCategory:  {Column: 3, Segment: 0},
				ingest.FieldEngine:    {Column: 3, Segment: 1},
				ingest.FieldStreaming: {Column: 4, Segment: 0},
			},
			Headers:      commonHeaders,
			IconSelector: "img",
		},
		Detail: commonDetail,
	},
	"header-number": {
		Name: "header-number",
		Base: "columns",
		Index: ingest.IndexProfile{
			NumberCell: ingest.NumberInHeader,
			Fields: map[string]ingest.FieldRule{
				ingest.FieldTitle:     {Column: 1, Segment: 0},
				ingest.FieldAuthor:    {Column: 1, Segment: 1},
				ingest.FieldCategory:  {Column: 2, Segment: 0},
				ingest.FieldEngine:    {Column: 2, Segment: 1},
				ingest.FieldStreaming: {Column: 3, Segment: 0},
			},
		},
	},
	"labeled": {
		Name: "labeled",
		Base: "columns",
		Index: ingest.IndexProfile{
			// Only the title is positional; everything else is labeled.
			Fields: map[string]ingest.FieldRule{
				ingest.FieldAuthor:    {},
				ingest.FieldCategory:  {},
				ingest.FieldEngine:    {},
				ingest.FieldStreaming: {},
			},
			Labels: map[string][]string{
				ingest.FieldAuthor:    {"作者", "制作"},
				ingest.FieldCategory:  {"ジャンル", "種類"},
				ingest.FieldEngine:    {"使用ツール", "ツール", "エンジン"},
				ingest.FieldStreaming: {"配信", "実況", "動画"},
			},
		},
	},
}

// ResolveProfile returns the named profile with its Base chain applied.
// custom entries take precedence over Builtins; a custom profile without a
// base that shares a builtin's name is layered on top of that builtin.
func ResolveProfile(name string, custom map[string]ingest.Profile) (ingest.Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	return resolveProfile(name, custom, map[string]bool{})
}

func resolveProfile(name string, custom map[string]ingest.Profile, visiting map[string]bool) (ingest.Profile, error) {
	if visiting[name] {
		return ingest.Profile{}, fmt.Errorf("profile %q: base cycle", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	own, isCustom := custom[name]
	builtin, isBuiltin := Builtins[name]
	switch {
	case isCustom && own.Base == "" && isBuiltin:
		base, err := resolveBuiltin(name, custom, visiting, builtin)
		if err != nil {
			return ingest.Profile{}, err
		}
		own.Name = name
		return ingest.Overlay(base, own), nil
	case isCustom:
		own.Name = name
		if own.Base == "" {
			return ingest.Overlay(ingest.Profile{}, own), nil
		}
		base, err := resolveProfile(own.Base, custom, visiting)
		if err != nil {
			return ingest.Profile{}, fmt.Errorf("profile %q: %w", name, err)
		}
		return ingest.Overlay(base, own), nil
	case isBuiltin:
		return resolveBuiltin(name, custom, visiting, builtin)
	default:
		return ingest.Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}

func resolveBuiltin(name string, custom map[string]ingest.Profile, visiting map[string]bool, p ingest.Profile) (ingest.Profile, error) {
	if p.Base == "" {
		return ingest.Overlay(ingest.Profile{}, p), nil
	}
	base, err := resolveProfile(p.Base, custom, visiting)
	if err != nil {
		return ingest.Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	return ingest.Overlay(base, p), nil
}

// Names lists every resolvable profile name in sorted order.
func Names(custom map[string]ingest.Profile) []string {
	set := make(map[string]struct{}, len(Builtins)+len(custom))
	for n := range Builtins {
		set[n] = struct{}{}
	}
	for n := range custom {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
