package progress

import (
	"context"
	"fmt"
	"time"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit shows progress reports being coalesced to the latest value
// per job before reaching a sink.
func ExampleHub_Emit() {
	var last []Event
	hub := NewHub(Config{
		MaxBatchEvents: 10,
		MaxBatchWait:   time.Minute,
	}, sinkFunc(func(_ context.Context, batch []Event) error {
		last = batch
		return nil
	}))

	for _, pct := range []int{10, 20, 40} {
		hub.Emit(Event{JobID: "job-1", TS: time.Unix(0, 0), Stage: StageJobProgress, Progress: pct})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d, progress: %d\n", len(last), last[0].Progress)
	// Output:
	// events forwarded: 1, progress: 40
}
