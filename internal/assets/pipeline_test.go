package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	md5hash "github.com/JakeFAU/archive-ingest/internal/hash/md5"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

type fakeResolver struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  []string
}

func (f *fakeResolver) Resolve(_ context.Context, req ingest.ResolveRequest) (ingest.Resolved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Hints[0])
	if err, ok := f.errs[req.Hints[0]]; ok {
		return ingest.Resolved{}, err
	}
	body, ok := f.bodies[req.Hints[0]]
	if !ok {
		return ingest.Resolved{}, ingest.ErrUnresolvable
	}
	return ingest.Resolved{Body: body, Location: req.Hints[0]}, nil
}

func pngImage(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: seed, G: 1, B: 2, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, bodies map[string][]byte, cfg Config) (*Pipeline, *fakeResolver, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(root, "/assets")
	require.NoError(t, err)
	resolver := &fakeResolver{bodies: bodies}
	return NewPipeline(resolver, md5hash.New(), store, cfg, nil), resolver, root
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func screenshotRequest(urls ...string) Request {
	return Request{SourceID: "fest", EntryID: "05", Kind: ingest.AssetScreenshot, URLs: urls}
}

func TestMaterializeDropsSmallOnceHighQualityExists(t *testing.T) {
	t.Parallel()

	p, _, root := newTestPipeline(t, map[string][]byte{
		"http://a.jp/big.png":   pngImage(t, 500, 400, 1),
		"http://a.jp/small.png": pngImage(t, 50, 50, 2),
	}, Config{})

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/big.png", "http://a.jp/small.png"))

	require.Equal(t, []string{"/assets/screenshots/fest/05.png"}, result.Paths)
	require.Equal(t, []ingest.AssetNote{{Kind: ingest.AssetScreenshot, URL: "http://a.jp/small.png", Reason: ingest.ReasonSmall}}, result.Skipped)
	require.Empty(t, result.Failures)
	require.Equal(t, []string{"05.png"}, listDir(t, filepath.Join(root, "screenshots", "fest")))
	require.Equal(t, 500, result.Stored[0].Width)
}

func TestMaterializeSkipsByteIdenticalDuplicates(t *testing.T) {
	t.Parallel()

	same := pngImage(t, 640, 480, 7)
	p, _, root := newTestPipeline(t, map[string][]byte{
		"http://a.jp/1.png":                  same,
		"http://mirror.example.net/copy.png": same,
	}, Config{})

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/1.png", "http://mirror.example.net/copy.png"))

	require.Equal(t, []string{"/assets/screenshots/fest/05.png"}, result.Paths)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, ingest.ReasonDuplicate, result.Skipped[0].Reason)
	require.Equal(t, "http://mirror.example.net/copy.png", result.Skipped[0].URL)
	require.Equal(t, []string{"05.png"}, listDir(t, filepath.Join(root, "screenshots", "fest")))
}

func TestMaterializeKeepsDistinctImagesWithSequenceSuffix(t *testing.T) {
	t.Parallel()

	p, _, root := newTestPipeline(t, map[string][]byte{
		"http://a.jp/1.png": pngImage(t, 640, 480, 1),
		"http://a.jp/2.gif": gifImage(t, 400, 300),
	}, Config{})

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/1.png", "http://a.jp/2.gif"))

	require.Equal(t, []string{
		"/assets/screenshots/fest/05.png",
		"/assets/screenshots/fest/05_02.gif",
	}, result.Paths)
	require.Empty(t, result.Skipped)
	require.Equal(t, []string{"05.png", "05_02.gif"}, listDir(t, filepath.Join(root, "screenshots", "fest")))
}

func TestMaterializeQualitySelection(t *testing.T) {
	t.Parallel()

	t.Run("lower quality dropped", func(t *testing.T) {
		t.Parallel()
		p, _, _ := newTestPipeline(t, map[string][]byte{
			"http://a.jp/hq.png": pngImage(t, 640, 480, 1),
			"http://a.jp/lq.png": pngImage(t, 320, 240, 2),
		}, Config{})
		result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/lq.png", "http://a.jp/hq.png"))
		require.Equal(t, []string{"/assets/screenshots/fest/05.png"}, result.Paths)
		require.Equal(t, "http://a.jp/hq.png", result.Stored[0].SourceURL)
		require.Equal(t, ingest.ReasonLowQuality, result.Skipped[0].Reason)
	})

	t.Run("all kept without a high quality image", func(t *testing.T) {
		t.Parallel()
		p, _, _ := newTestPipeline(t, map[string][]byte{
			"http://a.jp/a.png": pngImage(t, 320, 240, 1),
			"http://a.jp/b.png": pngImage(t, 100, 20, 2),
		}, Config{})
		result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/a.png", "http://a.jp/b.png"))
		require.Len(t, result.Paths, 2, "one dimension at the threshold is eligible")
		require.Empty(t, result.Skipped)
	})
}

func TestMaterializeCapsCount(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(t, map[string][]byte{
		"http://a.jp/1.png": pngImage(t, 400, 300, 1),
		"http://a.jp/2.png": pngImage(t, 400, 300, 2),
		"http://a.jp/3.png": pngImage(t, 400, 300, 3),
	}, Config{MaxScreenshots: 4})

	req := screenshotRequest("http://a.jp/1.png", "http://a.jp/2.png", "http://a.jp/3.png")
	req.Limits = ingest.AssetProfile{MaxScreenshots: 2}
	result := p.Materialize(context.Background(), req)

	require.Len(t, result.Paths, 2)
	require.Equal(t, []ingest.AssetNote{{Kind: ingest.AssetScreenshot, URL: "http://a.jp/3.png", Reason: ingest.ReasonOverLimit}}, result.Skipped)
}

func TestMaterializeRecordsFailures(t *testing.T) {
	t.Parallel()

	p, _, root := newTestPipeline(t, map[string][]byte{
		"http://a.jp/gate.png": []byte("<html>年齢確認</html>"),
	}, Config{})

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/gate.png", "http://a.jp/gone.png"))

	require.Empty(t, result.Paths)
	require.Equal(t, []ingest.AssetNote{
		{Kind: ingest.AssetScreenshot, URL: "http://a.jp/gate.png", Reason: ingest.ReasonNotImage},
		{Kind: ingest.AssetScreenshot, URL: "http://a.jp/gone.png", Reason: ingest.ReasonFetch},
	}, result.Failures)
	require.Empty(t, listDir(t, filepath.Join(root, "screenshots", "fest")))
}

func TestMaterializeReportsCandidatesThatNeverServedAnImage(t *testing.T) {
	t.Parallel()

	p, resolver, _ := newTestPipeline(t, map[string][]byte{}, Config{})
	resolver.errs = map[string]error{
		"http://parked.jp/ss.png": fmt.Errorf("%w: every candidate: %w", ingest.ErrUnresolvable, ingest.ErrNotImage),
	}

	result := p.Materialize(context.Background(), screenshotRequest("http://parked.jp/ss.png"))
	require.Equal(t, []ingest.AssetNote{
		{Kind: ingest.AssetScreenshot, URL: "http://parked.jp/ss.png", Reason: ingest.ReasonNotImage},
	}, result.Failures)
}

func TestMaterializePurgesPreviousScreenshots(t *testing.T) {
	t.Parallel()

	p, _, root := newTestPipeline(t, map[string][]byte{
		"http://a.jp/new.png": pngImage(t, 500, 400, 9),
	}, Config{})
	dir := filepath.Join(root, "screenshots", "fest")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	for _, name := range []string{"05.png", "05_02.png", "05_03.gif", "050.png", "5.png", "05.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o600))
	}

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/new.png"))
	require.Len(t, result.Paths, 1)
	require.Equal(t, []string{"05.png", "05.txt", "050.png", "5.png"}, listDir(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, "05.png"))
	require.NoError(t, err)
	require.NotEqual(t, []byte("old"), data)
}

func TestMaterializeKeepsFilesWhenNothingAccepted(t *testing.T) {
	t.Parallel()

	p, _, root := newTestPipeline(t, map[string][]byte{}, Config{})
	dir := filepath.Join(root, "screenshots", "fest")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "05.png"), []byte("old"), 0o600))

	result := p.Materialize(context.Background(), screenshotRequest("http://a.jp/404.png"))
	require.Empty(t, result.Paths)
	require.Equal(t, []string{"05.png"}, listDir(t, dir))
}

func TestMaterializeIconTakesFirstValidImage(t *testing.T) {
	t.Parallel()

	p, resolver, _ := newTestPipeline(t, map[string][]byte{
		"http://a.jp/broken.gif": []byte("GIF89a"),
		"http://a.jp/icon.gif":   gifImage(t, 32, 32),
		"http://a.jp/other.gif":  gifImage(t, 48, 48),
	}, Config{})

	result := p.Materialize(context.Background(), Request{
		SourceID: "fest",
		EntryID:  "05",
		Kind:     ingest.AssetIcon,
		URLs:     []string{"http://a.jp/broken.gif", "http://a.jp/icon.gif", "http://a.jp/other.gif"},
	})

	require.Equal(t, []string{"/assets/icons/fest/05.gif"}, result.Paths)
	require.Equal(t, ingest.ReasonNotImage, result.Failures[0].Reason)
	require.Empty(t, result.Skipped, "icons are not size filtered")
	require.Equal(t, []string{"http://a.jp/broken.gif", "http://a.jp/icon.gif"}, resolver.calls)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	t.Parallel()

	bodies := map[string][]byte{
		"http://a.jp/1.png": pngImage(t, 640, 480, 1),
		"http://a.jp/2.png": pngImage(t, 640, 480, 2),
	}
	p, _, root := newTestPipeline(t, bodies, Config{})
	req := screenshotRequest("http://a.jp/1.png", "http://a.jp/2.png")

	first := p.Materialize(context.Background(), req)
	dir := filepath.Join(root, "screenshots", "fest")
	before := listDir(t, dir)
	second := p.Materialize(context.Background(), req)

	require.Equal(t, first.Paths, second.Paths)
	require.Equal(t, before, listDir(t, dir))
	data, err := os.ReadFile(filepath.Join(dir, "05_02.png"))
	require.NoError(t, err)
	require.Equal(t, bodies["http://a.jp/2.png"], data)
}
