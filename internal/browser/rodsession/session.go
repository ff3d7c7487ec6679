// Package rodsession drives Chrome through go-rod.
package rodsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
)

const htmlExpression = `document.documentElement ? document.documentElement.outerHTML : ""`

// Launcher starts one Chrome process per session via the rod launcher.
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher returns a rod-backed launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("rod")}
}

type launched struct {
	session *Session
	err     error
}

// Launch implements browser.Launcher. If ctx ends before the browser is
// ready, the late browser is cleaned up in the background.
func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	result := make(chan launched, 1)
	go func() {
		session, err := l.start(opts)
		result <- launched{session: session, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", browser.ErrSessionCreation, res.err)
		}
		return res.session, nil
	case <-ctx.Done():
		go func() {
			if res := <-result; res.session != nil {
				res.session.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %w", browser.ErrSessionCreation, ctx.Err())
	}
}

func (l *Launcher) start(opts browser.Options) (*Session, error) {
	ln := newLauncher(opts)
	controlURL, err := ln.Launch()
	if err != nil {
		// The launcher kills its own process when startup fails.
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("connect devtools: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			l.logger.Debug("user agent override failed", zap.Error(err))
		}
	}

	l.logger.Debug("browser session started", zap.Bool("headless", opts.Headless), zap.Bool("minimal", opts.Minimal))
	return &Session{browser: b, page: page, launcher: ln, logger: l.logger}, nil
}

func newLauncher(opts browser.Options) *launcher.Launcher {
	ln := launcher.New().Headless(opts.Headless)
	if opts.ExecPath != "" {
		ln = ln.Bin(opts.ExecPath)
	}
	for _, flag := range opts.Flags() {
		if flag.Value == "" {
			ln = ln.Set(flags.Flag(flag.Name))
			continue
		}
		ln = ln.Set(flags.Flag(flag.Name), flag.Value)
	}
	return ln
}

// Session is a live rod browser with a single page.
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger

	closeOnce sync.Once
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return wrap(ctx, "navigate", err)
	}
	if err := p.WaitLoad(); err != nil {
		return wrap(ctx, "navigate", err)
	}
	return nil
}

// Evaluate implements browser.Session. The expression is wrapped in an arrow
// function because rod evaluates function declarations.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	res, err := s.page.Context(ctx).Evaluate(rod.Eval("() => (" + expression + ")"))
	if err != nil {
		return wrap(ctx, "evaluate", err)
	}
	if out == nil || res == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return &browser.Error{Kind: browser.KindFatal, Op: "evaluate", Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// StopLoading implements browser.Session.
func (s *Session) StopLoading(ctx context.Context) error {
	return wrap(ctx, "stop loading", s.page.Context(ctx).StopLoading())
}

// HTML implements browser.Session.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.Evaluate(ctx, htmlExpression, &html); err != nil {
		return "", err
	}
	return html, nil
}

// Close implements browser.Session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug("browser close failed", zap.Error(err))
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.logger.Debug("browser session closed")
	})
}

func wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return browser.Wrap(op, fmt.Errorf("%w: %w", ctxErr, err))
	}
	return browser.Wrap(op, err)
}
