package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/storage/local"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string][]ingest.FetchResponse
	errs      map[string]error
	calls     []string
	headers   []http.Header
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		responses: make(map[string][]ingest.FetchResponse),
		errs:      make(map[string]error),
	}
}

func (f *scriptedFetcher) on(url string, responses ...ingest.FetchResponse) *scriptedFetcher {
	f.responses[url] = append(f.responses[url], responses...)
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	f.headers = append(f.headers, req.Headers)
	if err, ok := f.errs[req.URL]; ok {
		return ingest.FetchResponse{}, err
	}
	queue := f.responses[req.URL]
	if len(queue) == 0 {
		return ingest.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[req.URL] = queue[1:]
	}
	return resp, nil
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type stubIndex struct {
	mu    sync.Mutex
	found []string
	err   error
	calls int
}

func (s *stubIndex) Timestamps(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, err
	}
	return s.found, nil
}

func ok(body string) ingest.FetchResponse {
	return ingest.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body), ContentType: "text/html"}
}

const pngSignature = "\x89PNG\r\n\x1a\n"

func png(body string) ingest.FetchResponse {
	return ingest.FetchResponse{StatusCode: http.StatusOK, Body: []byte(pngSignature + body), ContentType: "image/png"}
}

func status(code int) ingest.FetchResponse {
	return ingest.FetchResponse{StatusCode: code}
}

func testConfig() Config {
	return Config{
		Retry:              RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		PlaceholderMarkers: []string{"年齢確認", "thread closed"},
	}
}

func TestResolveDirectHit(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher().on("http://fest.example.jp/list.html", ok("<table></table>"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{
		SourceID: "fest",
		Hints:    []string{"http://fest.example.jp/list.html"},
	})
	require.NoError(t, err)
	require.Equal(t, "<table></table>", string(got.Body))
	require.Equal(t, "http://fest.example.jp/list.html", got.Location)
	require.False(t, got.FromCache)
}

func TestResolveRetriesTransientWithLinearBackoff(t *testing.T) {
	t.Parallel()

	url := "http://fest.example.jp/list.html"
	fetcher := newScriptedFetcher().on(url, status(503), status(502), ok("page"))
	sleeper := &recordingSleeper{}
	r := New(fetcher, nil, nil, nil, sleeper, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{url}})
	require.NoError(t, err)
	require.Equal(t, "page", string(got.Body))
	require.Equal(t, []string{url, url, url}, fetcher.Calls())
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
}

func TestResolveFallsBackToArchive(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/list.html"
	raw := "https://web.archive.org/web/20050301000000id_/" + orig
	fetcher := newScriptedFetcher().on(raw, ok("archived"))
	sleeper := &recordingSleeper{}
	r := New(fetcher, nil, nil, nil, sleeper, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{
		Hints:      []string{orig},
		Timestamps: []string{"20050301000000"},
	})
	require.NoError(t, err)
	require.Equal(t, raw, got.Location)
	require.Equal(t, []string{orig, "https://fest.example.jp/list.html", raw}, fetcher.Calls())
	require.Empty(t, sleeper.delays, "client errors move on without waiting")
}

func TestResolveRejectsPlaceholderPages(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/entry/05.html"
	swapped := "https://fest.example.jp/entry/05.html"
	fetcher := newScriptedFetcher().
		on(orig, ok("<p>この先は年齢確認が必要です</p>")).
		on(swapped, ok("<p>本物</p>"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{orig}})
	require.NoError(t, err)
	require.Equal(t, swapped, got.Location)
}

func TestResolveBinarySkipsPlaceholderCheckAndPrefersImageMode(t *testing.T) {
	t.Parallel()

	orig := "http://img.example.jp/ss/05.png"
	im := "https://web.archive.org/web/2005im_/" + orig
	fetcher := newScriptedFetcher().on(im, png("thread closed but binary"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{
		Hints:      []string{orig},
		Timestamps: []string{"2005"},
		Kind:       ingest.FetchBinary,
	})
	require.NoError(t, err)
	require.Equal(t, im, got.Location)
}

func TestResolveUnwrapsArchiveHints(t *testing.T) {
	t.Parallel()

	hint := "https://web.archive.org/web/2004/http://fest.example.jp/a.html"
	raw := "https://web.archive.org/web/2004id_/http://fest.example.jp/a.html"
	fetcher := newScriptedFetcher().on(raw, ok("ok"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{hint}})
	require.NoError(t, err)
	require.Equal(t, raw, got.Location)
	require.Equal(t, []string{
		hint,
		"http://fest.example.jp/a.html",
		"https://fest.example.jp/a.html",
		raw,
	}, fetcher.Calls()[:4])
}

func TestResolveLooksUpTimestampsOnce(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/list.html"
	index := &stubIndex{found: []string{"20060101000000"}}
	fetcher := newScriptedFetcher()
	r := New(fetcher, nil, index, nil, &recordingSleeper{}, testConfig(), nil)

	_, err := r.Resolve(context.Background(), ingest.ResolveRequest{CacheKey: "a", Hints: []string{orig}})
	require.ErrorIs(t, err, ingest.ErrUnresolvable)
	_, err = r.Resolve(context.Background(), ingest.ResolveRequest{CacheKey: "b", Hints: []string{orig}})
	require.ErrorIs(t, err, ingest.ErrUnresolvable)
	require.Equal(t, 1, index.calls)
	require.Contains(t, fetcher.Calls(), "https://web.archive.org/web/20060101000000id_/"+orig)
}

func TestResolveUsesProxiesLast(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/list.html"
	proxy := "https://proxy.example.net/raw?u=http%3A%2F%2Ffest.example.jp%2Flist.html"
	fetcher := newScriptedFetcher().on(proxy, ok("proxied"))
	cfg := testConfig()
	cfg.Proxies = []string{"https://proxy.example.net/raw?u={escaped}", "no-placeholder"}
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, cfg, nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{orig}})
	require.NoError(t, err)
	require.Equal(t, proxy, got.Location)
}

func TestResolveReportsEveryAttempt(t *testing.T) {
	t.Parallel()

	orig := "http://gone.example.jp/"
	fetcher := newScriptedFetcher()
	fetcher.errs["https://gone.example.jp/"] = errors.New("dial tcp: no such host")
	sleeper := &recordingSleeper{}
	r := New(fetcher, nil, nil, nil, sleeper, testConfig(), nil)

	_, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{orig}})
	require.ErrorIs(t, err, ingest.ErrUnresolvable)

	var unresolvable *UnresolvableError
	require.ErrorAs(t, err, &unresolvable)
	require.Len(t, unresolvable.Attempts, 2)
	var statusErr *StatusError
	require.ErrorAs(t, unresolvable.Attempts[0].Err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Len(t, sleeper.delays, 2, "transport errors use the full retry budget")
}

func TestResolveMemoizesWithinRun(t *testing.T) {
	t.Parallel()

	url := "http://fest.example.jp/list.html"
	fetcher := newScriptedFetcher().on(url, ok("once"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)
	req := ingest.ResolveRequest{SourceID: "fest", CacheKey: "list.html", Hints: []string{url}}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, "once", string(got.Body))
		}()
	}
	wg.Wait()
	require.Len(t, fetcher.Calls(), 1)
}

func TestResolveCachesPagesForOfflineRuns(t *testing.T) {
	t.Parallel()

	cache, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	orig := "http://fest.example.jp/list.html"
	raw := "https://web.archive.org/web/2005id_/" + orig
	live := newScriptedFetcher().on(raw, ok("archived list"))
	req := ingest.ResolveRequest{
		SourceID:   "fest",
		CacheKey:   "list.html",
		Hints:      []string{orig},
		Timestamps: []string{"2005"},
	}

	_, err = New(live, cache, nil, nil, &recordingSleeper{}, testConfig(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)

	offline := newScriptedFetcher()
	got, err := New(offline, cache, nil, nil, &recordingSleeper{}, testConfig(), nil).Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, got.FromCache)
	require.Equal(t, raw, got.Location)
	require.Equal(t, "archived list", string(got.Body))
	require.Empty(t, offline.Calls())

	cfg := testConfig()
	cfg.Refresh = true
	refreshed := newScriptedFetcher().on(orig, ok("fresh"))
	got, err = New(refreshed, cache, nil, nil, &recordingSleeper{}, cfg, nil).Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, got.FromCache)
	require.Equal(t, "fresh", string(got.Body))
}

func TestResolveStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := newScriptedFetcher()
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	_, err := r.Resolve(ctx, ingest.ResolveRequest{Hints: []string{"http://a.example.jp/"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ingest.ErrUnresolvable)
}

func TestResolveBinaryRejectsSoftNotFoundAndFallsBackToArchive(t *testing.T) {
	t.Parallel()

	cache, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	orig := "http://fest.example.jp/entry/ss/big.png"
	im := "https://web.archive.org/web/2005im_/" + orig
	fetcher := newScriptedFetcher().
		on(orig, ok("<html><body>お探しのページは見つかりません</body></html>")).
		on(im, png("500x400"))
	sleeper := &recordingSleeper{}
	r := New(fetcher, cache, nil, nil, sleeper, testConfig(), nil)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{
		SourceID:   "fest",
		CacheKey:   "entry/ss/big.png",
		Hints:      []string{orig},
		Timestamps: []string{"2005"},
		Kind:       ingest.FetchBinary,
	})
	require.NoError(t, err)
	require.Equal(t, im, got.Location)
	require.Equal(t, pngSignature+"500x400", string(got.Body))
	require.Equal(t, orig, fetcher.Calls()[0])
	require.Empty(t, sleeper.delays, "an html body for an image is not retried")

	cached, err := New(newScriptedFetcher(), cache, nil, nil, &recordingSleeper{}, testConfig(), nil).
		Resolve(context.Background(), ingest.ResolveRequest{
			SourceID: "fest",
			CacheKey: "entry/ss/big.png",
			Hints:    []string{orig},
			Kind:     ingest.FetchBinary,
		})
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Equal(t, im, cached.Location)
}

func TestResolveBinaryReportsNotImageWhenNoCandidateServesOne(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/entry/ss/gone.png"
	fetcher := newScriptedFetcher().on(orig, ok("<html>404</html>"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	_, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{orig}, Kind: ingest.FetchBinary})
	require.ErrorIs(t, err, ingest.ErrUnresolvable)
	require.ErrorIs(t, err, ingest.ErrNotImage)
	require.ErrorIs(t, err, ErrNotBinary)
}

func TestResolveSendsAcceptHeaderPerKind(t *testing.T) {
	t.Parallel()

	page := "http://fest.example.jp/list.html"
	img := "http://fest.example.jp/ss/01.png"
	fetcher := newScriptedFetcher().on(page, ok("list")).on(img, png("01"))
	r := New(fetcher, nil, nil, nil, &recordingSleeper{}, testConfig(), nil)

	_, err := r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{page}})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), ingest.ResolveRequest{Hints: []string{img}, Kind: ingest.FetchBinary})
	require.NoError(t, err)

	require.Len(t, fetcher.headers, 2)
	require.Contains(t, fetcher.headers[0].Get("Accept"), "text/html")
	require.Contains(t, fetcher.headers[1].Get("Accept"), "image/*")
}

func TestResolveRetriesFailedTimestampLookup(t *testing.T) {
	t.Parallel()

	orig := "http://fest.example.jp/list.html"
	snapshot := "https://web.archive.org/web/20060101000000id_/" + orig
	index := &stubIndex{found: []string{"20060101000000"}, err: errors.New("cdx lookup: status 503")}
	fetcher := newScriptedFetcher().on(snapshot, ok("archived"))
	r := New(fetcher, nil, index, nil, &recordingSleeper{}, testConfig(), nil)

	_, err := r.Resolve(context.Background(), ingest.ResolveRequest{CacheKey: "a", Hints: []string{orig}})
	require.ErrorIs(t, err, ingest.ErrUnresolvable)

	got, err := r.Resolve(context.Background(), ingest.ResolveRequest{CacheKey: "b", Hints: []string{orig}})
	require.NoError(t, err)
	require.Equal(t, snapshot, got.Location)
	require.Equal(t, 2, index.calls)
}
