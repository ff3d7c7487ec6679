package memory

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultWatchdogInterval is the polling period used when none is configured.
const DefaultWatchdogInterval = 2 * time.Second

// Watchdog polls a Budget while a page load is in flight. When the budget
// reports StatusStop it marks itself tripped, invokes the stop callback once
// and cancels the context returned by StartWatchdog.
type Watchdog struct {
	tripped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartWatchdog launches the polling goroutine. The returned context is
// cancelled when the watchdog trips or when Stop is called. Callers must call
// Stop once the guarded work finishes; Stop blocks until the goroutine exits.
func StartWatchdog(
	parent context.Context,
	budget *Budget,
	interval time.Duration,
	onStop func(),
) (context.Context, *Watchdog) {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	ctx, cancel := context.WithCancel(parent)
	w := &Watchdog{cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, budget, interval, onStop)
	return ctx, w
}

func (w *Watchdog) run(ctx context.Context, budget *Budget, interval time.Duration, onStop func()) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, _, _ := budget.Check(ctx)
			if status != StatusStop {
				continue
			}
			w.tripped.Store(true)
			if onStop != nil {
				safeCall(onStop)
			}
			w.cancel()
			return
		}
	}
}

// Tripped reports whether the budget was exceeded while the watchdog ran.
func (w *Watchdog) Tripped() bool {
	return w.tripped.Load()
}

// Stop cancels the watchdog and waits for its goroutine to exit. It is safe
// to call more than once.
func (w *Watchdog) Stop() {
	w.cancel()
	<-w.done
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
