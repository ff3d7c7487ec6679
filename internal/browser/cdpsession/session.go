// Package cdpsession drives Chrome through chromedp.
package cdpsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
)

const htmlExpression = `document.documentElement ? document.documentElement.outerHTML : ""`

// Launcher starts one Chrome process per session.
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher returns a chromedp-backed launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("chromedp")}
}

// Launch implements browser.Launcher. The browser outlives ctx; ctx bounds
// only the startup handshake.
func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	shutdown := func() {
		browserCancel()
		allocCancel()
	}

	stopForward := forwardCancel(ctx, shutdown)
	err := chromedp.Run(browserCtx, setupAction(opts.UserAgent))
	stopForward()
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("%w: chromedp warmup: %w", browser.ErrSessionCreation, err)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(browserCtx, meta.captureEvent)

	l.logger.Debug("browser session started", zap.Bool("headless", opts.Headless), zap.Bool("minimal", opts.Minimal))
	return &Session{ctx: browserCtx, shutdown: shutdown, meta: meta, logger: l.logger}, nil
}

func allocatorOptions(opts browser.Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	for _, flag := range opts.Flags() {
		if flag.Value == "" {
			allocOpts = append(allocOpts, chromedp.Flag(flag.Name, true))
			continue
		}
		allocOpts = append(allocOpts, chromedp.Flag(flag.Name, flag.Value))
	}
	return allocOpts
}

func setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Session is a live chromedp browser with a single tab.
type Session struct {
	ctx      context.Context
	shutdown func()
	meta     *responseMeta
	logger   *zap.Logger

	closeOnce sync.Once
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate", chromedp.Navigate(url))
}

// Evaluate implements browser.Session.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	return s.run(ctx, "evaluate", chromedp.Evaluate(expression, out))
}

// StopLoading implements browser.Session.
func (s *Session) StopLoading(ctx context.Context) error {
	return s.run(ctx, "stop loading", page.StopLoading())
}

// HTML implements browser.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, "html", chromedp.Evaluate(htmlExpression, &html)); err != nil {
		return "", err
	}
	return html, nil
}

// LastResponse implements browser.ResponseRecorder.
func (s *Session) LastResponse() (browser.Response, bool) {
	return s.meta.snapshot()
}

// Close implements browser.Session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.shutdown()
		s.logger.Debug("browser session closed")
	})
}

// run executes actions on the session tab bounded by ctx. Cancelling ctx
// never closes the tab.
func (s *Session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		cancel()
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	}
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return browser.Wrap(op, fmt.Errorf("%w: %w", ctxErr, err))
		}
		return browser.Wrap(op, err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel func()) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
