package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/loader"
	"github.com/iantaiahn/topicscraper/internal/memory"
	"github.com/iantaiahn/topicscraper/internal/metrics"
)

// Loader drives a session to a readable state.
type Loader interface {
	Load(ctx context.Context, session browser.Session, url string, budget *memory.Budget) (loader.Result, error)
}

// Prefetcher fetches a document without a browser. It returns an error
// wrapping ErrDisallowed when the site forbids the fetch, and any other error
// when the browser path should be used instead.
type Prefetcher interface {
	Prefetch(ctx context.Context, url string) (StaticPage, error)
}

// StaticPage is a document fetched over plain HTTP.
type StaticPage struct {
	Markup     string
	FinalURL   string
	StatusCode int
}

// Extractor turns markup into text. It must not retain markup.
type Extractor interface {
	Extract(markup string, maxLength int, interrupt func() bool) extract.Content
}

// Config holds fetch-wide settings. Request fields override the matching
// defaults when set.
type Config struct {
	MemoryLimitMB    float64
	WarnRatio        float64
	MaxContentLength int
	Browser          browser.Options
	LaunchTimeout    time.Duration
	ReadTimeout      time.Duration
	CollectMetadata  bool
	MaxLinks         int
	// StaticMinChars is the shortest statically fetched text accepted
	// without falling back to the browser.
	StaticMinChars int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MemoryLimitMB:    1024,
		WarnRatio:        memory.DefaultWarnRatio,
		MaxContentLength: 50000,
		Browser:          browser.DefaultOptions(),
		LaunchTimeout:    30 * time.Second,
		ReadTimeout:      15 * time.Second,
		CollectMetadata:  true,
		MaxLinks:         10,
		StaticMinChars:   500,
	}
}

// Fetcher runs fetches. It holds no per-fetch state and is safe for
// concurrent use, though each fetch owns its own browser.
type Fetcher struct {
	cfg        Config
	launcher   browser.Launcher
	loader     Loader
	extractor  Extractor
	prefetcher Prefetcher
	sampler    memory.Sampler
	logger     *zap.Logger
}

// New builds a Fetcher.
func New(
	cfg Config,
	launcher browser.Launcher,
	pageLoader Loader,
	extractor Extractor,
	sampler memory.Sampler,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		launcher:  launcher,
		loader:    pageLoader,
		extractor: extractor,
		sampler:   sampler,
		logger:    logger.Named("scraper"),
	}
}

// WithPrefetcher tries p before launching a browser.
func (f *Fetcher) WithPrefetcher(p Prefetcher) *Fetcher {
	f.prefetcher = p
	return f
}

// fetchRun carries the state of one Fetch call.
type fetchRun struct {
	req       Request
	url       string
	maxLength int
	budget    *memory.Budget
	start     time.Time
	logger    *zap.Logger
	stage     string
}

// Fetch retrieves req.URL and extracts its text. It never panics and never
// returns a nil-Err non-success outcome. Any browser session it opens is
// closed exactly once before it returns.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (out Outcome) {
	run := &fetchRun{req: req, url: req.URL, start: time.Now(), logger: f.logger.With(zap.String("url", req.URL))}
	defer func() {
		if r := recover(); r != nil {
			sentinel := ErrLoadFailed
			if run.stage == "extract" {
				sentinel = ErrParse
			}
			run.logger.Error("fetch panicked", zap.String("stage", run.stage), zap.Any("panic", r))
			out = f.fail(run, KindError, fmt.Errorf("%w: panic during %s: %v", sentinel, run.stage, r))
		}
		out.Duration = time.Since(run.start)
		out.PeakMemoryMB = run.budget.Peak()
		metrics.ObserveFetch(run.url, out.Kind.String(), out.Duration, out.PeakMemoryMB)
	}()

	run.stage = "validate"
	target, err := ValidateURL(req.URL)
	if err != nil {
		return f.fail(run, KindError, err)
	}
	run.url = target.String()

	limit := req.MemoryLimitMB
	if limit <= 0 {
		limit = f.cfg.MemoryLimitMB
	}
	run.budget = memory.NewBudget(f.sampler, limit, f.cfg.WarnRatio)
	run.maxLength = req.MaxContentLength
	if run.maxLength <= 0 {
		run.maxLength = f.cfg.MaxContentLength
	}

	run.stage = "launch"
	if out, stop := f.checkpoint(ctx, run, "before browser launch"); stop {
		return out
	}
	if f.prefetcher != nil {
		if out, done := f.tryStatic(ctx, run); done {
			return out
		}
		run.stage = "launch"
	}
	f.progress(run, 10, "Initializing browser...")
	opts := f.cfg.Browser
	opts.Headless = req.Headless
	session, err := f.launch(ctx, opts)
	if err != nil {
		return f.fail(run, KindError, err)
	}
	release := sync.OnceFunc(session.Close)
	defer release()

	run.stage = "load"
	f.progress(run, 20, "Loading URL: "+run.url)
	result, err := f.loader.Load(ctx, session, run.url, run.budget)
	if err != nil {
		return withAttempts(f.fail(run, loadErrorKind(err), loadError(err)), result)
	}
	if result.StoppedByMemory {
		return withAttempts(f.fail(run, KindMemoryExceeded, fmt.Errorf("%w: during page load", ErrMemoryExceeded)), result)
	}
	if out, stop := f.checkpoint(ctx, run, "after page load"); stop {
		return withAttempts(out, result)
	}
	if !result.ContentAvailable {
		return withAttempts(f.unavailable(run, result), result)
	}

	run.stage = "read"
	f.progress(run, 40, "Page loaded, reading content...")
	markup, page, err := f.read(ctx, session)
	release()
	f.progress(run, 50, "Browser closed, memory freed")
	if err != nil {
		return withAttempts(f.fail(run, loadErrorKind(err), loadError(err)), result)
	}

	run.stage = "extract"
	if out, stop := f.checkpoint(ctx, run, "before parsing"); stop {
		return withAttempts(out, result)
	}
	content := f.extract(ctx, run, markup, &page)
	return withAttempts(f.finish(ctx, run, content, page, result.Strategy.String()), result)
}

// extract parses markup into text and fills in page metadata.
func (f *Fetcher) extract(ctx context.Context, run *fetchRun, markup string, page *Page) extract.Content {
	f.progress(run, 60, "Analyzing page structure...")
	content := f.extractor.Extract(markup, run.maxLength, func() bool {
		status, _, _ := run.budget.Check(ctx)
		return status == memory.StatusStop
	})
	metrics.ObserveExtractTier(content.Tier.String())

	f.progress(run, 80, "Processing extracted content...")
	if f.cfg.CollectMetadata && !content.Interrupted {
		f.describe(run, markup, page)
	}
	page.HTMLLength = len(markup)
	return content
}

// finish turns extracted content into the final outcome.
func (f *Fetcher) finish(ctx context.Context, run *fetchRun, content extract.Content, page Page, via string) Outcome {
	status, _, _ := run.budget.Check(ctx)
	if status == memory.StatusStop || content.Interrupted {
		if content.Empty() {
			return f.fail(run, KindMemoryExceeded, fmt.Errorf("%w: during content extraction", ErrMemoryExceeded))
		}
		run.logger.Warn("memory budget hit during extraction, returning partial content",
			zap.Int("length", content.Length),
			zap.Float64("peak_mb", run.budget.Peak()),
		)
		content = clipped(content)
	}
	if content.Empty() {
		cause := content.Err
		if cause == nil {
			cause = extract.ErrNoContent
		}
		return f.fail(run, KindError, fmt.Errorf("%w: %w", ErrParse, cause))
	}

	f.progress(run, 100, "Scraping completed successfully!")
	run.logger.Info("fetch succeeded",
		zap.String("via", via),
		zap.Stringer("tier", content.Tier),
		zap.Int("length", content.Length),
		zap.Bool("truncated", content.Truncated),
		zap.Float64("peak_mb", run.budget.Peak()),
	)
	return Outcome{
		Kind:    KindSuccess,
		Content: content,
		Message: fmt.Sprintf("extracted %d characters", content.Length),
		Page:    page,
	}
}

// tryStatic fetches the document without a browser. It reports false when
// the browser path should run instead.
func (f *Fetcher) tryStatic(ctx context.Context, run *fetchRun) (Outcome, bool) {
	run.stage = "prefetch"
	f.progress(run, 5, "Trying static fetch...")
	static, err := f.prefetcher.Prefetch(ctx, run.url)
	switch {
	case errors.Is(err, ErrDisallowed):
		metrics.ObservePrefetch("disallowed")
		return f.fail(run, KindError, err), true
	case err != nil:
		metrics.ObservePrefetch("browser")
		run.logger.Debug("static fetch not usable, falling back to browser", zap.Error(err))
		return Outcome{}, false
	}

	page := Page{FinalURL: static.FinalURL, StatusCode: static.StatusCode}
	content := f.extract(ctx, run, static.Markup, &page)
	if content.Interrupted || content.Length < f.cfg.StaticMinChars {
		metrics.ObservePrefetch("browser")
		run.logger.Debug("static content too thin, falling back to browser", zap.Int("length", content.Length))
		return Outcome{}, false
	}
	metrics.ObservePrefetch("static")
	out := f.finish(ctx, run, content, page, "static_fetch")
	out.Static = out.OK()
	return out, true
}

func (f *Fetcher) launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	launchCtx := ctx
	if f.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, f.cfg.LaunchTimeout)
		defer cancel()
	}
	session, err := f.launcher.Launch(launchCtx, opts)
	if err != nil {
		if !errors.Is(err, ErrSessionCreation) {
			err = fmt.Errorf("%w: %w", ErrSessionCreation, err)
		}
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: launcher returned no session", ErrSessionCreation)
	}
	return session, nil
}

// read captures the document and response details before the session is released.
func (f *Fetcher) read(ctx context.Context, session browser.Session) (string, Page, error) {
	var page Page
	if recorder, ok := session.(browser.ResponseRecorder); ok {
		if resp, seen := recorder.LastResponse(); seen {
			page.FinalURL = resp.URL
			page.StatusCode = resp.Status
		}
	}
	readCtx := ctx
	if f.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, f.cfg.ReadTimeout)
		defer cancel()
	}
	markup, err := session.HTML(readCtx)
	if err != nil {
		return "", page, err
	}
	return markup, page, nil
}

func (f *Fetcher) describe(run *fetchRun, markup string, page *Page) {
	meta, err := extract.Metadata(markup, run.url)
	if err != nil {
		run.logger.Debug("metadata unavailable", zap.Error(err))
	}
	page.Title = meta.Title
	page.Byline = meta.Byline
	page.SiteName = meta.SiteName
	page.Excerpt = meta.Excerpt
	base := run.url
	if page.FinalURL != "" {
		base = page.FinalURL
	}
	page.Links, page.LinksCount = extract.Links(markup, base, f.cfg.MaxLinks)
}

// checkpoint samples the budget and converts StatusStop into an outcome.
func (f *Fetcher) checkpoint(ctx context.Context, run *fetchRun, where string) (Outcome, bool) {
	status, sample, err := run.budget.Check(ctx)
	if err != nil {
		run.logger.Debug("memory sample failed", zap.Error(err))
	}
	if status == memory.StatusWarning {
		run.logger.Warn("memory usage approaching limit",
			zap.String("checkpoint", where),
			zap.Float64("resident_mb", sample.ResidentMB),
			zap.Float64("limit_mb", run.budget.LimitMB()),
		)
	}
	if status != memory.StatusStop {
		return Outcome{}, false
	}
	return f.fail(run, KindMemoryExceeded, fmt.Errorf("%w: %.0f MB resident %s (limit %.0f MB)",
		ErrMemoryExceeded, sample.ResidentMB, where, run.budget.LimitMB())), true
}

func (f *Fetcher) unavailable(run *fetchRun, result loader.Result) Outcome {
	if result.LastErr == nil || browser.IsTimeout(result.LastErr) {
		return f.fail(run, KindTimeout, fmt.Errorf("%w: no strategy reached the content bar: %w", ErrLoadTimeout, lastErr(result)))
	}
	return f.fail(run, KindError, fmt.Errorf("%w: %w", ErrLoadFailed, result.LastErr))
}

func (f *Fetcher) fail(run *fetchRun, kind Kind, err error) Outcome {
	run.logger.Warn("fetch failed",
		zap.String("stage", run.stage),
		zap.Stringer("kind", kind),
		zap.Error(err),
	)
	return Outcome{Kind: kind, Err: err, Message: err.Error()}
}

func (f *Fetcher) progress(run *fetchRun, percent int, message string) {
	if run.req.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			run.logger.Debug("progress callback panicked", zap.Any("panic", r))
		}
	}()
	run.req.Progress(percent, message)
}

func withAttempts(out Outcome, result loader.Result) Outcome {
	out.Attempts = result.Attempts
	return out
}

func loadErrorKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || browser.IsTimeout(err) && !errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindError
}

func loadError(err error) error {
	if loadErrorKind(err) == KindTimeout {
		return fmt.Errorf("%w: %w", ErrLoadTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrLoadFailed, err)
}

func lastErr(result loader.Result) error {
	if result.LastErr != nil {
		return result.LastErr
	}
	return errors.New("content never became available")
}

// clipped marks content as a partial result.
func clipped(content extract.Content) extract.Content {
	content.Interrupted = true
	return content
}
