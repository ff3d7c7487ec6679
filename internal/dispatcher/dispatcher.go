// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

// ErrBusy is returned when the queue has no room before the caller's deadline.
var ErrBusy = errors.New("job queue is full")

// Runner is a queue consumer; *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   jobs.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue jobs.Queue, workers ...Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every one has returned, which
// happens when ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Enqueue proxies to the underlying queue. A deadline hit while waiting for
// capacity is reported as ErrBusy.
func (d *Dispatcher) Enqueue(ctx context.Context, item jobs.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("queue enqueue: %w", ErrBusy)
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
