package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

func mustProfile(t *testing.T, name string) ingest.Profile {
	t.Helper()
	p, err := ResolveProfile(name, nil)
	require.NoError(t, err)
	return p
}

func htmlPage(location, body string) ingest.Resolved {
	return ingest.Resolved{
		Body:        []byte("<html><body>" + body + "</body></html>"),
		Location:    location,
		ContentType: "text/html; charset=utf-8",
	}
}

func TestParseIndexColumns(t *testing.T) {
	t.Parallel()

	page := htmlPage("http://fest.example.jp/list.html", `
<table>
  <tr><th>No</th><th>タイトル/作者</th><th>ジャンル/ツール</th><th>配信</th></tr>
  <tr><td colspan="4"><img src="line.gif"></td></tr>
  <tr>
    <td>05</td>
    <td><a href="entry/05.html">Sample   RPG</a><br> Jane </td>
    <td>RPG<br>ツクール2000</td>
    <td>可</td>
  </tr>
  <tr>
    <td>00</td>
    <td><a href="entry/00.html">Prologue</a></td>
    <td>ADV</td>
    <td></td>
  </tr>
</table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "columns").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 2)

	require.Equal(t, ingest.IndexStub{
		Number:    "05",
		Title:     "Sample RPG",
		Author:    "Jane",
		Category:  "RPG",
		Engine:    "ツクール2000",
		Streaming: "可",
		DetailURL: "http://fest.example.jp/entry/05.html",
	}, stubs[0])

	require.Equal(t, "00", stubs[1].Number)
	require.Equal(t, "Prologue", stubs[1].Title)
	require.Empty(t, stubs[1].Author, "author is completed from the detail page")
}

func TestParseIndexHeaderReordersColumns(t *testing.T) {
	t.Parallel()

	page := htmlPage("http://fest.example.jp/", `
<table>
  <tr><td>No.</td><td>作者</td><td>作品名</td><td>ジャンル</td></tr>
  <tr><td>1</td><td>Bob</td><td><a href="/works/1.html">Game</a></td><td>STG</td></tr>
</table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "columns").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "Bob", stubs[0].Author)
	require.Equal(t, "Game", stubs[0].Title)
	require.Equal(t, "STG", stubs[0].Category)
	require.Equal(t, "http://fest.example.jp/works/1.html", stubs[0].DetailURL)
}

func TestParseIndexExpandsColspan(t *testing.T) {
	t.Parallel()

	profile := ingest.IndexProfile{
		NumberColumn: 1,
		Split:        ingest.SplitBreak,
		Fields: map[string]ingest.FieldRule{
			ingest.FieldTitle:     {Column: 2},
			ingest.FieldAuthor:    {Column: 2, Segment: 1},
			ingest.FieldCategory:  {Column: 4},
			ingest.FieldEngine:    {Column: 4, Segment: 1},
			ingest.FieldStreaming: {Column: 5},
		},
	}
	page := htmlPage("http://fest.example.jp/", `
<table><tr>
  <td>07</td>
  <td colspan="2"><a href="07.html">Wide Title</a><br>Ann</td>
  <td>ACT<br>WOLF RPG</td>
  <td>不可</td>
</tr></table>`)

	stubs, err := ParseIndex(page, profile)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "Wide Title", stubs[0].Title)
	require.Equal(t, "Ann", stubs[0].Author)
	require.Equal(t, "ACT", stubs[0].Category)
	require.Equal(t, "WOLF RPG", stubs[0].Engine)
	require.Equal(t, "不可", stubs[0].Streaming)
}

func TestParseIndexNumberInHeaderCell(t *testing.T) {
	t.Parallel()

	page := htmlPage("http://fest.example.jp/2006/index.html", `
<table>
  <tr><th>12</th><td><a href="e12.html">Tower</a><br>Rin</td><td>SLG<br>Tonyu</td><td>OK</td></tr>
  <tr><th>Total</th><td>1 works</td></tr>
</table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "header-number").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, ingest.IndexStub{
		Number:    "12",
		Title:     "Tower",
		Author:    "Rin",
		Category:  "SLG",
		Engine:    "Tonyu",
		Streaming: "OK",
		DetailURL: "http://fest.example.jp/2006/e12.html",
	}, stubs[0])
}

func TestParseIndexLabeledSegments(t *testing.T) {
	t.Parallel()

	page := htmlPage("http://fest.example.jp/", `
<table><tr>
  <td>０３</td>
  <td><a href="d/03.html">Quest</a><br>作者：Kay<br>【ジャンル】RPG<br>使用ツール：ウディタ</td>
</tr></table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "labeled").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "03", stubs[0].Number)
	require.Equal(t, "Quest", stubs[0].Title)
	require.Equal(t, "Kay", stubs[0].Author)
	require.Equal(t, "RPG", stubs[0].Category)
	require.Equal(t, "ウディタ", stubs[0].Engine)
}

func TestParseIndexSpanSplit(t *testing.T) {
	t.Parallel()

	profile := ingest.IndexProfile{
		Split: ingest.SplitSpan,
		Fields: map[string]ingest.FieldRule{
			ingest.FieldTitle:    {Column: 2},
			ingest.FieldCategory: {Column: 3},
			ingest.FieldEngine:   {Column: 3, Segment: 1},
		},
	}
	page := htmlPage("http://fest.example.jp/", `
<table><tr><td>2</td><td>Maze</td><td>PZL<span class="tool">HSP</span></td></tr></table>`)

	stubs, err := ParseIndex(page, profile)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "PZL", stubs[0].Category)
	require.Equal(t, "HSP", stubs[0].Engine)
}

func TestParseIndexUnnumberedEntries(t *testing.T) {
	t.Parallel()

	body := `
<table>
  <tr><td>1</td><td><a href="1.html">First</a></td></tr>
  <tr><td>番外</td><td><a href="extra.html">Bonus Stage</a></td></tr>
  <tr><td></td><td>No link here</td></tr>
</table>`
	profile := mustProfile(t, "columns").Index

	stubs, err := ParseIndex(htmlPage("http://fest.example.jp/", body), profile)
	require.NoError(t, err)
	require.Len(t, stubs, 1)

	profile.AllowUnnumbered = true
	stubs, err = ParseIndex(htmlPage("http://fest.example.jp/", body), profile)
	require.NoError(t, err)
	require.Len(t, stubs, 2)
	require.Empty(t, stubs[1].Number)
	require.Equal(t, "Bonus Stage", stubs[1].Title)
}

func TestParseIndexArchivedPageKeepsCapture(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://web.archive.org/web/2005id_/http://fest.example.jp/list.html", `
<table><tr>
  <td>04</td>
  <td><a href="entry/04.html">Night</a><br>Mei</td>
  <td>HRR<br>RPGツクール</td>
  <td><img src="/img/i04.gif"><a href="http://up.example.jp/night.zip">DL</a></td>
</tr></table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "columns").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "https://web.archive.org/web/2005id_/http://fest.example.jp/entry/04.html", stubs[0].DetailURL)
	require.Equal(t, "https://web.archive.org/web/2005id_/http://fest.example.jp/img/i04.gif", stubs[0].IconURL)
	require.Equal(t, "http://up.example.jp/night.zip", stubs[0].DownloadURL)
}

func TestParseIndexDecodesShiftJIS(t *testing.T) {
	t.Parallel()

	raw := `<html><head><meta http-equiv="Content-Type" content="text/html; charset=Shift_JIS"></head><body>
<table><tr><td>01</td><td><a href="1.html">夜の迷宮</a><br>山田</td></tr></table></body></html>`
	encoded, err := japanese.ShiftJIS.NewEncoder().String(raw)
	require.NoError(t, err)

	stubs, err := ParseIndex(ingest.Resolved{Body: []byte(encoded), Location: "http://fest.example.jp/"},
		mustProfile(t, "columns").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "夜の迷宮", stubs[0].Title)
	require.Equal(t, "山田", stubs[0].Author)
}

func TestParseIndexMergesRepeatedNumbers(t *testing.T) {
	t.Parallel()

	page := htmlPage("http://fest.example.jp/", `
<table>
  <tr><td>09</td><td><a href="9.html">Echo</a></td></tr>
  <tr><td>09</td><td>Echo<br>Sho</td><td>ACT</td></tr>
</table>`)

	stubs, err := ParseIndex(page, mustProfile(t, "columns").Index)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	require.Equal(t, "Sho", stubs[0].Author)
	require.Equal(t, "ACT", stubs[0].Category)
	require.Equal(t, "http://fest.example.jp/9.html", stubs[0].DetailURL)
}

func TestEntryNumber(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"05":     "05",
		"00":     "00",
		" No.12": "12",
		"#7":     "7",
		"１２３":    "123",
		"第4番":    "4",
		"1234":   "",
		"No":     "",
		"5作品":    "",
	}
	for in, want := range testCases {
		require.Equal(t, want, entryNumber(in), in)
	}
}
