// Package prefetch fetches documents over plain HTTP with colly and decides
// whether they can be read without a headless browser.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/scraper"
)

// ErrNeedsBrowser marks a document that has to be rendered.
var ErrNeedsBrowser = errors.New("document needs a browser")

// Config controls collector behavior.
type Config struct {
	UserAgent           string        `mapstructure:"user_agent"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
	BodyLengthThreshold int           `mapstructure:"body_length_threshold"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:           browser.DefaultUserAgent,
		RespectRobots:       true,
		Timeout:             15 * time.Second,
		MaxBodyBytes:        10 << 20,
		BodyLengthThreshold: 2048,
	}
}

// Response is one plain HTTP fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher implements scraper.Prefetcher using the Colly collector.
// A fresh collector is built per fetch so that visited-URL state and the
// HTTP client are never shared between concurrent fetches.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	detector  *Heuristic
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		detector:  NewHeuristic(cfg.BodyLengthThreshold),
		logger:    logger.Named("prefetch"),
	}
}

// Prefetch fetches rawURL and returns its markup when it is readable as is.
func (f *Fetcher) Prefetch(ctx context.Context, rawURL string) (scraper.StaticPage, error) {
	resp, err := f.Fetch(ctx, rawURL)
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return scraper.StaticPage{}, fmt.Errorf("%w: %s", scraper.ErrDisallowed, rawURL)
	case err != nil:
		return scraper.StaticPage{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return scraper.StaticPage{}, fmt.Errorf("%w: status %d", ErrNeedsBrowser, resp.StatusCode)
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return scraper.StaticPage{}, fmt.Errorf("%w: content type %q", ErrNeedsBrowser, ct)
	}
	if f.detector.NeedsBrowser(resp.StatusCode, resp.Body) {
		return scraper.StaticPage{}, fmt.Errorf("%w: script-rendered page", ErrNeedsBrowser)
	}
	return scraper.StaticPage{Markup: string(resp.Body), FinalURL: resp.URL, StatusCode: resp.StatusCode}, nil
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector, probe := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Response{}, err
	}
	if probe != nil && probe.indeterminate {
		f.logger.Info("robots.txt probe indeterminate, treated as allow-all",
			zap.String("url", rawURL),
			zap.String("reason", probe.reason),
		)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *Response,
	fetchErr *error,
) (*colly.Collector, *robotsProbe) {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var probe *robotsProbe
	if f.cfg.RespectRobots {
		probe = &robotsProbe{}
		collector.WithTransport(&robotsAwareTransport{
			base:    f.transport,
			probe:   probe,
			backoff: robotsRetryBackoff,
		})
	} else {
		collector.WithTransport(f.transport)
	}

	configureCollectorHooks(collector, start, result, fetchErr)
	return collector, probe
}

func configureCollectorHooks(hooks collectorHooks, start time.Time, result *Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
