package ingest

// Index field names understood by profiles.
const (
	FieldTitle     = "title"
	FieldAuthor    = "author"
	FieldCategory  = "category"
	FieldEngine    = "engine"
	FieldStreaming = "streaming"
	FieldDetail    = "detail"
	FieldForum     = "forum"
	FieldDownload  = "download"
	FieldIcon      = "icon"

	FieldAuthorComment = "author_comment"
	FieldHostComment   = "host_comment"
)

// Cell split modes.
const (
	SplitBreak = "br"
	SplitSpan  = "span"
)

// Number cell locations.
const (
	NumberInData   = "data"
	NumberInHeader = "header"
)

// Profile declares how one era of a source is laid out. Profiles are
// resolved by name; Base names another profile whose settings are inherited.
type Profile struct {
	Name   string        `mapstructure:"name"`
	Base   string        `mapstructure:"base"`
	Index  IndexProfile  `mapstructure:"index"`
	Detail DetailProfile `mapstructure:"detail"`
	Assets AssetProfile  `mapstructure:"assets"`
	// DetailWins lists structured fields for which a detail-page value
	// replaces the index-page value.
	DetailWins []string `mapstructure:"detail_wins"`
}

// FieldRule locates a field inside a row. Column is 1-based (0 = unset);
// Segment is the 0-based piece after splitting the cell.
type FieldRule struct {
	Column  int `mapstructure:"column"`
	Segment int `mapstructure:"segment"`
}

// IndexProfile configures listing-page extraction.
type IndexProfile struct {
	RowSelector  string `mapstructure:"row_selector"`
	NumberCell   string `mapstructure:"number_cell"`
	NumberColumn int    `mapstructure:"number_column"`
	Split        string `mapstructure:"split"`
	// Fields maps a field name to its column/segment.
	Fields map[string]FieldRule `mapstructure:"fields"`
	// Labels maps a field name to label synonyms searched in any segment.
	Labels map[string][]string `mapstructure:"labels"`
	// Headers maps a field name to header-cell synonyms; a matching header
	// row remaps columns for the rows after it.
	Headers         map[string][]string `mapstructure:"headers"`
	IconSelector    string              `mapstructure:"icon_selector"`
	AllowUnnumbered bool                `mapstructure:"allow_unnumbered"`
}

// DetailProfile configures detail-page extraction.
type DetailProfile struct {
	ContentSelector string              `mapstructure:"content_selector"`
	Labels          map[string][]string `mapstructure:"labels"`
	ExcludeImages   []string            `mapstructure:"exclude_images"`
	ForumText       []string            `mapstructure:"forum_text"`
	ForumHosts      []string            `mapstructure:"forum_hosts"`
	DownloadText    []string            `mapstructure:"download_text"`
	DownloadHosts   []string            `mapstructure:"download_hosts"`
	BannerSelector  string              `mapstructure:"banner_selector"`
}

// AssetProfile holds per-source asset limits. Zero values fall back to the
// global asset configuration.
type AssetProfile struct {
	MaxScreenshots    int `mapstructure:"max_screenshots"`
	SmallPx           int `mapstructure:"small_px"`
	HighQualityWidth  int `mapstructure:"high_quality_width"`
	HighQualityHeight int `mapstructure:"high_quality_height"`
}

// DetailWinsFor reports whether the detail page overrides field.
func (p Profile) DetailWinsFor(field string) bool {
	for _, f := range p.DetailWins {
		if f == field {
			return true
		}
	}
	return false
}

// Overlay returns base with every non-zero setting of override applied.
// Maps are merged key by key; slices replace when non-empty.
func Overlay(base, override Profile) Profile {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	out.Base = override.Base

	ix, ox := &out.Index, override.Index
	ix.RowSelector = pickString(ix.RowSelector, ox.RowSelector)
	ix.NumberCell = pickString(ix.NumberCell, ox.NumberCell)
	ix.Split = pickString(ix.Split, ox.Split)
	ix.IconSelector = pickString(ix.IconSelector, ox.IconSelector)
	if ox.NumberColumn != 0 {
		ix.NumberColumn = ox.NumberColumn
	}
	if ox.AllowUnnumbered {
		ix.AllowUnnumbered = true
	}
	ix.Fields = mergeRules(ix.Fields, ox.Fields)
	ix.Labels = mergeSynonyms(ix.Labels, ox.Labels)
	ix.Headers = mergeSynonyms(ix.Headers, ox.Headers)

	dx, od := &out.Detail, override.Detail
	dx.ContentSelector = pickString(dx.ContentSelector, od.ContentSelector)
	dx.BannerSelector = pickString(dx.BannerSelector, od.BannerSelector)
	dx.Labels = mergeSynonyms(dx.Labels, od.Labels)
	dx.ExcludeImages = pickSlice(dx.ExcludeImages, od.ExcludeImages)
	dx.ForumText = pickSlice(dx.ForumText, od.ForumText)
	dx.ForumHosts = pickSlice(dx.ForumHosts, od.ForumHosts)
	dx.DownloadText = pickSlice(dx.DownloadText, od.DownloadText)
	dx.DownloadHosts = pickSlice(dx.DownloadHosts, od.DownloadHosts)

	ax, oa := &out.Assets, override.Assets
	ax.MaxScreenshots = pickInt(ax.MaxScreenshots, oa.MaxScreenshots)
	ax.SmallPx = pickInt(ax.SmallPx, oa.SmallPx)
	ax.HighQualityWidth = pickInt(ax.HighQualityWidth, oa.HighQualityWidth)
	ax.HighQualityHeight = pickInt(ax.HighQualityHeight, oa.HighQualityHeight)

	out.DetailWins = pickSlice(out.DetailWins, override.DetailWins)
	return out
}

func pickString(current, next string) string {
	if next != "" {
		return next
	}
	return current
}

func pickInt(current, next int) int {
	if next != 0 {
		return next
	}
	return current
}

func pickSlice(current, next []string) []string {
	if len(next) > 0 {
		return append([]string(nil), next...)
	}
	return append([]string(nil), current...)
}

func mergeRules(base, override map[string]FieldRule) map[string]FieldRule {
	out := make(map[string]FieldRule, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func mergeSynonyms(base, override map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base)+len(override))
	for k, v := range base {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range override {
		out[k] = append([]string(nil), v...)
	}
	return out
}
