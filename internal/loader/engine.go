package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/memory"
	"github.com/iantaiahn/topicscraper/internal/metrics"
)

var (
	// errNoContent marks a strategy that finished without reaching the bar.
	errNoContent = errors.New("content not available")
	// errPollsExhausted marks a polling strategy that ran out of polls.
	errPollsExhausted = errors.New("content polls exhausted")
)

// strategyFunc reports whether content became available.
type strategyFunc func(ctx context.Context, session browser.Session, url string) (bool, error)

// Engine runs the ordered load strategies against one session.
type Engine struct {
	cfg        Config
	backoff    Backoff
	logger     *zap.Logger
	strategies map[Strategy]strategyFunc
}

// NewEngine builds an Engine.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loader config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		logger:  logger.Named("loader"),
	}
	e.strategies = map[Strategy]strategyFunc{
		StrategyDirect:    e.direct,
		StrategyScript:    e.scripted,
		StrategyEarlyStop: e.earlyStop,
		StrategyRawFetch:  e.rawFetch,
	}
	return e, nil
}

// Load tries each configured strategy in order until one makes content
// available, one fails fatally, or the memory budget reports StatusStop.
// Ordinary network failures and timeouts are reported through Result; an
// error is returned only for fatal session errors or caller cancellation.
func (e *Engine) Load(ctx context.Context, session browser.Session, url string, budget *memory.Budget) (Result, error) {
	var res Result

	loadCtx, watchdog := memory.StartWatchdog(ctx, budget, e.cfg.WatchdogInterval, func() {
		e.stopLoading(session)
	})
	defer watchdog.Stop()

	logger := e.logger.With(zap.String("url", url))
	for _, strategy := range e.cfg.Strategies {
		run, ok := e.strategies[strategy]
		if !ok {
			return res, fmt.Errorf("unsupported load strategy %s", strategy)
		}

		attempt := e.attempt(loadCtx, session, url, strategy, run)
		res.Attempts = append(res.Attempts, attempt)
		metrics.ObserveLoadAttempt(strategy.String(), attempt.Verdict.String())
		if attempt.PartialContent {
			res.ContentAvailable = true
		}
		if attempt.Err != nil {
			res.LastErr = attempt.Err
		}

		if watchdog.Tripped() {
			metrics.ObserveWatchdogTrip()
			logger.Warn("memory watchdog stopped page load", zap.Stringer("strategy", strategy))
			res.StoppedByMemory = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("load cancelled: %w", err)
		}

		switch attempt.Verdict {
		case VerdictSuccess:
			res.ContentAvailable = true
			res.Strategy = strategy
			logger.Info("page content available",
				zap.Stringer("strategy", strategy),
				zap.Bool("partial", attempt.PartialContent),
				zap.Duration("duration", attempt.Duration),
			)
			return res, nil
		case VerdictFatal:
			logger.Warn("fatal browser error", zap.Stringer("strategy", strategy), zap.Error(attempt.Err))
			return res, attempt.Err
		}

		logger.Debug("strategy did not reach content bar",
			zap.Stringer("strategy", strategy),
			zap.Int("retries", attempt.Retries),
			zap.Error(attempt.Err),
		)
		if status, _, _ := budget.Check(ctx); status == memory.StatusStop {
			logger.Warn("memory budget exceeded between strategies", zap.Stringer("strategy", strategy))
			res.StoppedByMemory = true
			return res, nil
		}
	}
	return res, nil
}

// attempt runs one strategy, retrying transient failures in place.
func (e *Engine) attempt(ctx context.Context, session browser.Session, url string, strategy Strategy, run strategyFunc) Attempt {
	start := time.Now()
	attempt := Attempt{Strategy: strategy}
	for {
		available, err := run(ctx, session, url)
		attempt.Err = err
		attempt.Duration = time.Since(start)
		switch {
		case available:
			attempt.Verdict = VerdictSuccess
			attempt.PartialContent = err != nil || strategy == StrategyEarlyStop
			return attempt
		case err == nil:
			attempt.Verdict = VerdictRetryable
			attempt.Err = &browser.Error{Kind: browser.KindTimeout, Op: strategy.String(), Err: errNoContent}
			return attempt
		}

		switch browser.KindOf(err) {
		case browser.KindTransient:
			if attempt.Retries >= e.cfg.TransientRetries {
				attempt.Verdict = VerdictRetryable
				return attempt
			}
			delay := e.backoff.Delay(attempt.Retries)
			attempt.Retries++
			e.logger.Debug("transient browser error, retrying",
				zap.Stringer("strategy", strategy),
				zap.Int("retry", attempt.Retries),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if sleep(ctx, delay) != nil {
				attempt.Verdict = VerdictRetryable
				attempt.Duration = time.Since(start)
				return attempt
			}
		case browser.KindTimeout:
			attempt.Verdict = VerdictRetryable
			return attempt
		default:
			attempt.Verdict = VerdictFatal
			return attempt
		}
	}
}

// contentAvailable is the single readiness signal.
func (e *Engine) contentAvailable(ctx context.Context, session browser.Session) (bool, error) {
	var length int
	if err := session.Evaluate(ctx, contentLengthScript, &length); err != nil {
		return false, err
	}
	return length > e.cfg.MinContentChars, nil
}

// probeAfter checks for content once the strategy's own budget has run out.
// A timed-out navigation often leaves a usable document behind.
func (e *Engine) probeAfter(ctx context.Context, session browser.Session, cause error) (bool, error) {
	if ctx.Err() != nil {
		return false, cause
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout())
	defer cancel()
	available, err := e.contentAvailable(probeCtx, session)
	if err != nil || !available {
		return false, cause
	}
	return true, cause
}

func (e *Engine) direct(ctx context.Context, session browser.Session, url string) (bool, error) {
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.DirectTimeout)
	defer cancel()

	err := session.Navigate(navCtx, url)
	if err != nil {
		if browser.KindOf(err) != browser.KindTimeout {
			return false, err
		}
		return e.probeAfter(ctx, session, err)
	}
	return e.contentAvailable(ctx, session)
}

func (e *Engine) scripted(ctx context.Context, session browser.Session, url string) (bool, error) {
	var ok bool
	// The assignment can tear down the context it runs in; that means the
	// navigation started.
	if err := session.Evaluate(ctx, scriptNavigation(url), &ok); err != nil && browser.KindOf(err) != browser.KindTransient {
		return false, err
	}
	return e.poll(ctx, session, e.cfg.ScriptPollInterval, e.cfg.ScriptMaxPolls, StrategyScript)
}

func (e *Engine) earlyStop(ctx context.Context, session browser.Session, _ string) (bool, error) {
	if err := session.StopLoading(ctx); err != nil && browser.KindOf(err) == browser.KindFatal {
		return false, err
	}
	if err := sleep(ctx, e.cfg.EarlyStopPause); err != nil {
		return false, browser.Wrap(StrategyEarlyStop.String(), err)
	}
	return e.contentAvailable(ctx, session)
}

func (e *Engine) rawFetch(ctx context.Context, session browser.Session, url string) (bool, error) {
	var ok bool
	if err := session.Evaluate(ctx, rawFetchInjection(url), &ok); err != nil {
		return false, err
	}
	return e.poll(ctx, session, e.cfg.RawFetchPollInterval, e.cfg.RawFetchMaxPolls, StrategyRawFetch)
}

// poll probes for content up to maxPolls times. Transient probe errors, such
// as a destroyed execution context mid-navigation, count as "not yet".
func (e *Engine) poll(ctx context.Context, session browser.Session, interval time.Duration, maxPolls int, strategy Strategy) (bool, error) {
	for range maxPolls {
		if err := sleep(ctx, interval); err != nil {
			return false, browser.Wrap(strategy.String(), err)
		}
		available, err := e.contentAvailable(ctx, session)
		if err != nil {
			if browser.KindOf(err) == browser.KindTransient {
				continue
			}
			return false, err
		}
		if available {
			return true, nil
		}
	}
	return false, &browser.Error{Kind: browser.KindTimeout, Op: strategy.String(), Err: errPollsExhausted}
}

// stopLoading is the watchdog's best-effort stop command. The load context is
// about to be cancelled, so it runs on its own short deadline.
func (e *Engine) stopLoading(session browser.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
	defer cancel()
	if err := session.StopLoading(ctx); err != nil {
		e.logger.Debug("stop loading failed", zap.Error(err))
	}
}

func (e *Engine) probeTimeout() time.Duration {
	if e.cfg.StopTimeout > 0 {
		return e.cfg.StopTimeout
	}
	return 2 * time.Second
}
