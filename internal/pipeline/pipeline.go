// Package pipeline runs the full scrape-to-report flow for one URL: fetch the
// page text, clean it into sentence documents, model topics, render word
// clouds and store an HTML report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/scraper"
	"github.com/iantaiahn/topicscraper/internal/telemetry"
	"github.com/iantaiahn/topicscraper/internal/textproc"
	"github.com/iantaiahn/topicscraper/internal/topics"
	"github.com/iantaiahn/topicscraper/internal/wordcloud"
)

var tracer = telemetry.Tracer("github.com/iantaiahn/topicscraper/internal/pipeline")

// Fetcher retrieves page text.
type Fetcher interface {
	Fetch(ctx context.Context, req scraper.Request) scraper.Outcome
}

// ReportStore persists rendered reports.
type ReportStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher names report objects by content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Throttle paces fetches per host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config holds pipeline-wide settings.
type Config struct {
	Topics       topics.Config
	ReportPrefix string
	PreviewChars int
}

// Request describes one pipeline run.
type Request struct {
	URL              string
	Headless         bool
	MemoryLimitMB    float64
	MaxContentLength int
	Progress         scraper.ProgressFunc
	// SkipTopics stops after cleaning.
	SkipTopics bool
	// SkipReport skips rendering and storing the HTML report.
	SkipReport bool
}

// Result is the output of a successful run.
type Result struct {
	URL          string            `json:"url"`
	Title        string            `json:"title,omitempty"`
	Page         scraper.Page      `json:"page"`
	BodyText     string            `json:"body_text"`
	TextLength   int               `json:"text_length"`
	Truncated    bool              `json:"truncated"`
	Partial      bool              `json:"partial,omitempty"`
	Tier         string            `json:"tier"`
	Strategy     string            `json:"strategy,omitempty"`
	PeakMemoryMB float64           `json:"peak_memory_mb"`
	CleanedText  []string          `json:"cleaned_text"`
	Topics       []topics.Topic    `json:"topics"`
	WordClouds   map[string]string `json:"wordclouds,omitempty"`
	ReportURI    string            `json:"report_uri,omitempty"`
	ReportPath   string            `json:"report_path,omitempty"`
	ExtractedAt  time.Time         `json:"extracted_at"`
}

// FetchError carries a non-success fetch outcome.
type FetchError struct {
	Kind    scraper.Kind
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf classifies a Run error into an outcome kind.
func KindOf(err error) scraper.Kind {
	var fe *FetchError
	switch {
	case err == nil:
		return scraper.KindSuccess
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, scraper.ErrLoadTimeout):
		return scraper.KindTimeout
	case errors.Is(err, scraper.ErrMemoryExceeded):
		return scraper.KindMemoryExceeded
	default:
		return scraper.KindError
	}
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      Config
	fetcher  Fetcher
	cleaner  *textproc.Cleaner
	reports  ReportStore
	hasher   Hasher
	throttle Throttle
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a Pipeline. reports may be nil, in which case no report is stored.
func New(cfg Config, fetcher Fetcher, reports ReportStore, hasher Hasher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 1000
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports"
	}
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		cleaner: textproc.NewCleaner(),
		reports: reports,
		hasher:  hasher,
		logger:  logger.Named("pipeline"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithThrottle makes Run wait on t before each fetch.
func (p *Pipeline) WithThrottle(t Throttle) *Pipeline {
	p.throttle = t
	return p
}

// Run executes the pipeline. A failed fetch is returned as a *FetchError
// wrapping the scraper sentinel.
func (p *Pipeline) Run(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(telemetry.URL(req.URL)))
	defer func() {
		if err != nil {
			span.SetAttributes(attribute.String("pipeline.error_kind", KindOf(err).String()))
		} else {
			span.SetAttributes(
				attribute.String("pipeline.strategy", res.Strategy),
				attribute.Int("pipeline.text_length", res.TextLength),
				attribute.Int("pipeline.topics", len(res.Topics)),
			)
		}
		telemetry.End(span, err)
	}()
	return p.run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, req Request) (Result, error) {
	report := func(percent int, message string) {
		if req.Progress != nil {
			req.Progress(percent, message)
		}
	}

	if p.throttle != nil {
		if err := p.throttle.Wait(ctx, req.URL); err != nil {
			return Result{}, &FetchError{Kind: scraper.KindTimeout, Message: "waiting for host rate limit", Err: err}
		}
	}

	fetchCtx, fetchSpan := tracer.Start(ctx, "scraper.fetch")
	out := p.fetcher.Fetch(fetchCtx, scraper.Request{
		URL:              req.URL,
		Headless:         req.Headless,
		MemoryLimitMB:    req.MemoryLimitMB,
		MaxContentLength: req.MaxContentLength,
		Progress: func(percent int, message string) {
			report(percent*70/100, message)
		},
	})
	fetchSpan.SetAttributes(
		attribute.String("scraper.outcome", out.Kind.String()),
		attribute.Bool("scraper.static", out.Static),
		attribute.Float64("scraper.peak_memory_mb", out.PeakMemoryMB),
	)
	telemetry.End(fetchSpan, out.Err)
	if !out.OK() {
		return Result{}, &FetchError{Kind: out.Kind, Message: out.Message, Err: out.Err}
	}

	res := Result{
		URL:          req.URL,
		Title:        out.Page.Title,
		Page:         out.Page,
		BodyText:     preview(out.Content.Text, p.cfg.PreviewChars),
		TextLength:   out.Content.Length,
		Truncated:    out.Content.Truncated,
		Partial:      out.Content.Interrupted,
		Tier:         out.Content.Tier.String(),
		PeakMemoryMB: out.PeakMemoryMB,
		ExtractedAt:  p.now(),
	}
	if out.Static {
		res.Strategy = "static_fetch"
	} else if n := len(out.Attempts); n > 0 {
		res.Strategy = out.Attempts[n-1].Strategy.String()
	}

	report(75, "Cleaning text...")
	res.CleanedText = p.cleaner.Clean(out.Content.Text)
	if res.CleanedText == nil {
		res.CleanedText = []string{}
	}
	res.Topics = []topics.Topic{}
	if req.SkipTopics {
		return res, nil
	}

	report(85, "Modelling topics...")
	_, topicSpan := tracer.Start(ctx, "topics.model", trace.WithAttributes(attribute.Int("topics.documents", len(res.CleanedText))))
	modelled, err := topics.Model(res.CleanedText, p.cfg.Topics)
	if errors.Is(err, topics.ErrNotEnoughDocuments) {
		topicSpan.SetAttributes(attribute.Bool("topics.skipped", true))
		telemetry.End(topicSpan, nil)
	} else {
		telemetry.End(topicSpan, err)
	}
	switch {
	case errors.Is(err, topics.ErrNotEnoughDocuments):
		p.logger.Info("not enough text for topics", zap.String("url", req.URL), zap.Int("documents", len(res.CleanedText)))
	case err != nil:
		return Result{}, fmt.Errorf("model topics: %w", err)
	default:
		res.Topics = modelled
	}
	res.WordClouds = wordcloud.HTML(res.Topics)

	if req.SkipReport || p.reports == nil {
		return res, nil
	}
	report(95, "Rendering report...")
	reportCtx, reportSpan := tracer.Start(ctx, "pipeline.report")
	path, uri, err := p.storeReport(reportCtx, res)
	telemetry.End(reportSpan, err)
	if err != nil {
		p.logger.Warn("report not stored", zap.String("url", req.URL), zap.Error(err))
		return res, nil
	}
	res.ReportURI = uri
	res.ReportPath = path
	return res, nil
}

func (p *Pipeline) storeReport(ctx context.Context, res Result) (string, string, error) {
	page, err := wordcloud.Page(res.URL, res.WordClouds, res.Topics, len(res.CleanedText))
	if err != nil {
		return "", "", err
	}
	name := fmt.Sprintf("%d", res.ExtractedAt.UnixNano())
	if p.hasher != nil {
		digest, err := p.hasher.Hash([]byte(page))
		if err != nil {
			return "", "", fmt.Errorf("hash report: %w", err)
		}
		name = digest
	}
	path := fmt.Sprintf("%s/%s/%s.html", strings.Trim(p.cfg.ReportPrefix, "/"), host(res.URL), name)
	uri, err := p.reports.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(page))
	if err != nil {
		return "", "", fmt.Errorf("put report: %w", err)
	}
	return path, uri, nil
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
