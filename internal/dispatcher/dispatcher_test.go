package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iantaiahn/topicscraper/internal/jobs"
	queuemem "github.com/iantaiahn/topicscraper/internal/queue/memory"
)

// TestDispatcherRunStartsWorkers ensures workers begin and the dispatcher
// returns once they stop.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	dispatch := New(queue, consumer{queue}, consumer{queue})
	require.Equal(t, 2, dispatch.Workers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for range 2 {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")})

	err := dispatch.Enqueue(context.Background(), jobs.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherEnqueueFullQueueIsBusy(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	dispatch := New(queue)
	require.NoError(t, dispatch.Enqueue(context.Background(), jobs.QueueItem{JobID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := dispatch.Enqueue(ctx, jobs.QueueItem{JobID: "b"})
	require.ErrorIs(t, err, ErrBusy)
}

func TestDispatcherDrainsThenStopsOnClose(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(4)
	var handled atomic.Int32
	dispatch := New(queue, countingConsumer{queue: queue, handled: &handled})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, dispatch.Enqueue(context.Background(), jobs.QueueItem{JobID: id}))
	}
	queue.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
	require.EqualValues(t, 3, handled.Load())
}

type consumer struct {
	queue jobs.Queue
}

func (c consumer) Run(ctx context.Context) {
	for {
		if _, err := c.queue.Dequeue(ctx); err != nil {
			return
		}
	}
}

type countingConsumer struct {
	queue   jobs.Queue
	handled *atomic.Int32
}

func (c countingConsumer) Run(ctx context.Context) {
	for {
		if _, err := c.queue.Dequeue(ctx); err != nil {
			return
		}
		c.handled.Add(1)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, jobs.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (jobs.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return jobs.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, jobs.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (jobs.QueueItem, error) {
	return jobs.QueueItem{}, nil
}
