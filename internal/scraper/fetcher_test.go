package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/loader"
	"github.com/iantaiahn/topicscraper/internal/memory"
)

const articleHTML = `<html><head><title>Quiet Harbor</title></head><body>
<nav>Home | About</nav>
<article><p>The harbor was quiet at dawn, and the boats rested on still water.</p>
<p>Fishermen mended their nets while gulls circled over the grey pier.</p></article>
<footer>Copyright</footer></body></html>`

type stubSession struct {
	closes atomic.Int32
	html   string
	err    error
	resp   browser.Response
}

func (s *stubSession) Navigate(context.Context, string) error      { return nil }
func (s *stubSession) Evaluate(context.Context, string, any) error { return nil }
func (s *stubSession) StopLoading(context.Context) error           { return nil }
func (s *stubSession) HTML(context.Context) (string, error)        { return s.html, s.err }
func (s *stubSession) Close()                                      { s.closes.Add(1) }
func (s *stubSession) LastResponse() (browser.Response, bool)      { return s.resp, s.resp.Status != 0 }

type stubLauncher struct {
	launches atomic.Int32
	session  *stubSession
	err      error
	opts     browser.Options
}

func (l *stubLauncher) Launch(_ context.Context, opts browser.Options) (browser.Session, error) {
	l.launches.Add(1)
	l.opts = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type stubLoader struct {
	result loader.Result
	err    error
	before func()
}

func (l *stubLoader) Load(context.Context, browser.Session, string, *memory.Budget) (loader.Result, error) {
	if l.before != nil {
		l.before()
	}
	return l.result, l.err
}

type extractorFunc func(markup string, maxLength int, interrupt func() bool) extract.Content

func (f extractorFunc) Extract(markup string, maxLength int, interrupt func() bool) extract.Content {
	return f(markup, maxLength, interrupt)
}

// scriptedSampler returns values in order and repeats the last one.
type scriptedSampler struct {
	mu     sync.Mutex
	values []float64
	calls  int
}

func (s *scriptedSampler) Sample(context.Context) (memory.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	s.calls++
	return memory.Sample{ResidentMB: s.values[i]}, nil
}

func (s *scriptedSampler) set(values ...float64) {
	s.mu.Lock()
	s.values = values
	s.calls = 0
	s.mu.Unlock()
}

func loaded() loader.Result {
	return loader.Result{ContentAvailable: true, Strategy: loader.StrategyDirect}
}

func newTestFetcher(l browser.Launcher, ld Loader, ex Extractor, sampler memory.Sampler) *Fetcher {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	if ex == nil {
		ex = extract.New(extract.Config{})
	}
	return New(cfg, l, ld, ex, sampler, zap.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	session := &stubSession{html: articleHTML, resp: browser.Response{URL: "https://example.com/harbor", Status: 200}}
	launcher := &stubLauncher{session: session}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, &scriptedSampler{values: []float64{100}})

	var progress []int
	out := fetcher.Fetch(context.Background(), Request{
		URL:      "https://example.com/harbor",
		Headless: true,
		Progress: func(p int, _ string) { progress = append(progress, p) },
	})

	require.Equal(t, KindSuccess, out.Kind, out.Message)
	assert.True(t, out.OK())
	assert.NoError(t, out.Err)
	assert.Contains(t, out.Content.Text, "The harbor was quiet at dawn")
	assert.NotContains(t, out.Content.Text, "Copyright")
	assert.Equal(t, "Quiet Harbor", out.Page.Title)
	assert.Equal(t, 200, out.Page.StatusCode)
	assert.Equal(t, len(articleHTML), out.Page.HTMLLength)
	assert.Equal(t, int32(1), session.closes.Load())
	assert.True(t, launcher.opts.Headless)
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.InDelta(t, 100, out.PeakMemoryMB, 0.001)
}

func TestFetchRejectsInvalidURLWithoutLaunching(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://example.com/file", "javascript:alert(1)", "https://", "not a url"} {
		launcher := &stubLauncher{session: &stubSession{}}
		fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil)

		out := fetcher.Fetch(context.Background(), Request{URL: raw})
		assert.Equal(t, KindError, out.Kind, raw)
		assert.ErrorIs(t, out.Err, ErrInvalidInput, raw)
		assert.Zero(t, launcher.launches.Load(), raw)
	}
}

func TestFetchMemoryStopBeforeLaunch(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, &scriptedSampler{values: []float64{5000}})

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com"})
	assert.Equal(t, KindMemoryExceeded, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMemoryExceeded)
	assert.Zero(t, launcher.launches.Load())
}

func TestFetchLaunchFailure(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{err: errors.New("chrome not found")}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil)

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com"})
	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrSessionCreation)
	assert.Contains(t, out.Message, "chrome not found")
}

func TestFetchUnreachableIsTimeout(t *testing.T) {
	t.Parallel()

	session := &stubSession{}
	ld := &stubLoader{result: loader.Result{
		LastErr: &browser.Error{Kind: browser.KindTimeout, Op: "probe", Err: context.DeadlineExceeded},
	}}
	fetcher := newTestFetcher(&stubLauncher{session: session}, ld, nil, nil)

	out := fetcher.Fetch(context.Background(), Request{URL: "https://unreachable.invalid"})
	assert.Equal(t, KindTimeout, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadTimeout)
	assert.Empty(t, out.Content.Text)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchExhaustedWithTransientErrorIsError(t *testing.T) {
	t.Parallel()

	session := &stubSession{}
	ld := &stubLoader{result: loader.Result{
		LastErr: &browser.Error{Kind: browser.KindTransient, Op: "navigate", Err: errors.New("net::ERR_CONNECTION_RESET")},
	}}
	out := newTestFetcher(&stubLauncher{session: session}, ld, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadFailed)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchFatalLoadError(t *testing.T) {
	t.Parallel()

	session := &stubSession{}
	ld := &stubLoader{err: &browser.Error{Kind: browser.KindFatal, Op: "navigate", Err: errors.New("target crashed")}}
	out := newTestFetcher(&stubLauncher{session: session}, ld, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadFailed)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchCallerDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	ld := &stubLoader{err: context.DeadlineExceeded}
	out := newTestFetcher(&stubLauncher{session: &stubSession{}}, ld, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindTimeout, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadTimeout)
}

func TestFetchWatchdogStopDuringLoad(t *testing.T) {
	t.Parallel()

	session := &stubSession{}
	ld := &stubLoader{result: loader.Result{StoppedByMemory: true}}
	out := newTestFetcher(&stubLauncher{session: session}, ld, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindMemoryExceeded, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMemoryExceeded)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchMemoryStopAfterLoad(t *testing.T) {
	t.Parallel()

	sampler := &scriptedSampler{values: []float64{100}}
	session := &stubSession{html: articleHTML}
	ld := &stubLoader{result: loaded(), before: func() { sampler.set(4000) }}
	out := newTestFetcher(&stubLauncher{session: session}, ld, nil, sampler).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindMemoryExceeded, out.Kind)
	assert.Equal(t, int32(1), session.closes.Load())
	assert.InDelta(t, 4000, out.PeakMemoryMB, 0.001)
}

func TestFetchClosesSessionBeforeExtraction(t *testing.T) {
	t.Parallel()

	session := &stubSession{html: articleHTML}
	var closedAtExtract int32
	ex := extractorFunc(func(markup string, maxLength int, interrupt func() bool) extract.Content {
		closedAtExtract = session.closes.Load()
		return extract.Extract(markup, maxLength)
	})
	out := newTestFetcher(&stubLauncher{session: session}, &stubLoader{result: loaded()}, ex, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, int32(1), closedAtExtract)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchExtractorPanicStillClosesOnce(t *testing.T) {
	t.Parallel()

	session := &stubSession{html: articleHTML}
	ex := extractorFunc(func(string, int, func() bool) extract.Content { panic("boom") })
	out := newTestFetcher(&stubLauncher{session: session}, &stubLoader{result: loaded()}, ex, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrParse)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchLoaderPanicStillCloses(t *testing.T) {
	t.Parallel()

	session := &stubSession{}
	ld := &stubLoader{before: func() { panic("loader bug") }}
	out := newTestFetcher(&stubLauncher{session: session}, ld, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadFailed)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchInterruptedExtractionReturnsPartial(t *testing.T) {
	t.Parallel()

	ex := extractorFunc(func(string, int, func() bool) extract.Content {
		return extract.Content{Text: "partial text", Length: 12, Tier: extract.TierParagraph, Interrupted: true}
	})
	out := newTestFetcher(&stubLauncher{session: &stubSession{html: articleHTML}}, &stubLoader{result: loaded()}, ex, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	require.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "partial text", out.Content.Text)
	assert.True(t, out.Content.Interrupted)
}

func TestFetchInterruptedWithNothingIsMemoryExceeded(t *testing.T) {
	t.Parallel()

	ex := extractorFunc(func(string, int, func() bool) extract.Content {
		return extract.Content{Interrupted: true}
	})
	out := newTestFetcher(&stubLauncher{session: &stubSession{html: articleHTML}}, &stubLoader{result: loaded()}, ex, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindMemoryExceeded, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMemoryExceeded)
}

func TestFetchInterruptConsultsBudget(t *testing.T) {
	t.Parallel()

	sampler := &scriptedSampler{values: []float64{100}}
	ex := extractorFunc(func(_ string, _ int, interrupt func() bool) extract.Content {
		sampler.set(9000)
		return extract.Content{Text: "abc", Length: 3, Interrupted: interrupt()}
	})
	out := newTestFetcher(&stubLauncher{session: &stubSession{html: articleHTML}}, &stubLoader{result: loaded()}, ex, sampler).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	require.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Content.Interrupted)
	assert.Equal(t, "abc", out.Content.Text)
}

func TestFetchEmptyDocumentIsParseError(t *testing.T) {
	t.Parallel()

	out := newTestFetcher(&stubLauncher{session: &stubSession{html: "<html><body><script>x()</script></body></html>"}}, &stubLoader{result: loaded()}, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrParse)
	assert.Empty(t, out.Content.Text)
}

func TestFetchHTMLReadFailure(t *testing.T) {
	t.Parallel()

	session := &stubSession{err: &browser.Error{Kind: browser.KindFatal, Op: "html", Err: errors.New("target closed")}}
	out := newTestFetcher(&stubLauncher{session: session}, &stubLoader{result: loaded()}, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrLoadFailed)
	assert.Equal(t, int32(1), session.closes.Load())
}

func TestFetchRequestOverridesMaxLength(t *testing.T) {
	t.Parallel()

	out := newTestFetcher(&stubLauncher{session: &stubSession{html: articleHTML}}, &stubLoader{result: loaded()}, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com", MaxContentLength: 20})

	require.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Content.Truncated)
	assert.Equal(t, 20+len([]rune(extract.TruncationMarker)), len([]rune(out.Content.Text)))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", KindSuccess.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "error", KindError.String())
	assert.Equal(t, "memory_exceeded", KindMemoryExceeded.String())
}

type stubPrefetcher struct {
	calls atomic.Int32
	page  StaticPage
	err   error
}

func (p *stubPrefetcher) Prefetch(context.Context, string) (StaticPage, error) {
	p.calls.Add(1)
	return p.page, p.err
}

func TestFetchStaticSkipsBrowser(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{html: articleHTML}}
	prefetcher := &stubPrefetcher{page: StaticPage{Markup: articleHTML, FinalURL: "https://example.com/harbor", StatusCode: 200}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil).WithPrefetcher(prefetcher)
	fetcher.cfg.StaticMinChars = 50

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com/harbor"})

	require.Equal(t, KindSuccess, out.Kind, out.Message)
	assert.True(t, out.Static)
	assert.Equal(t, "Quiet Harbor", out.Page.Title)
	assert.Equal(t, 200, out.Page.StatusCode)
	assert.Equal(t, int32(0), launcher.launches.Load())
	assert.Empty(t, out.Attempts)
}

func TestFetchMemoryStopBeforeStaticFetch(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{html: articleHTML}}
	prefetcher := &stubPrefetcher{page: StaticPage{Markup: articleHTML, FinalURL: "https://example.com/harbor", StatusCode: 200}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, &scriptedSampler{values: []float64{5000}}).
		WithPrefetcher(prefetcher)
	fetcher.cfg.StaticMinChars = 50

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com/harbor"})

	assert.Equal(t, KindMemoryExceeded, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMemoryExceeded)
	assert.Equal(t, int32(0), prefetcher.calls.Load())
	assert.Zero(t, launcher.launches.Load())
}

func TestFetchThinStaticContentFallsBackToBrowser(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{html: articleHTML}}
	prefetcher := &stubPrefetcher{page: StaticPage{Markup: `<html><body><div id="root"></div></body></html>`, StatusCode: 200}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil).WithPrefetcher(prefetcher)

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com/app"})

	require.Equal(t, KindSuccess, out.Kind, out.Message)
	assert.False(t, out.Static)
	assert.Equal(t, int32(1), prefetcher.calls.Load())
	assert.Equal(t, int32(1), launcher.launches.Load())
}

func TestFetchPrefetchErrorFallsBackToBrowser(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{html: articleHTML}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil).
		WithPrefetcher(&stubPrefetcher{err: errors.New("needs a browser")})

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com/harbor"})

	require.Equal(t, KindSuccess, out.Kind, out.Message)
	assert.Equal(t, int32(1), launcher.launches.Load())
}

func TestFetchDisallowedByRobots(t *testing.T) {
	t.Parallel()

	launcher := &stubLauncher{session: &stubSession{html: articleHTML}}
	fetcher := newTestFetcher(launcher, &stubLoader{result: loaded()}, nil, nil).
		WithPrefetcher(&stubPrefetcher{err: fmt.Errorf("%w: https://example.com/private", ErrDisallowed)})

	out := fetcher.Fetch(context.Background(), Request{URL: "https://example.com/private"})

	assert.Equal(t, KindError, out.Kind)
	assert.ErrorIs(t, out.Err, ErrDisallowed)
	assert.Equal(t, int32(0), launcher.launches.Load())
}

func TestFetchRecordsLoadAttempts(t *testing.T) {
	t.Parallel()

	result := loaded()
	result.Attempts = []loader.Attempt{
		{Strategy: loader.StrategyDirect, Verdict: loader.VerdictRetryable},
		{Strategy: loader.StrategyScript, Verdict: loader.VerdictSuccess},
	}
	out := newTestFetcher(&stubLauncher{session: &stubSession{html: articleHTML}}, &stubLoader{result: result}, nil, nil).
		Fetch(context.Background(), Request{URL: "https://example.com"})

	require.Equal(t, KindSuccess, out.Kind)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, loader.StrategyScript, out.Attempts[1].Strategy)
}
