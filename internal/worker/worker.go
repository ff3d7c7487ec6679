// Package worker runs queued scrape jobs through the pipeline and records
// their outcome on the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/memory"
	"github.com/iantaiahn/topicscraper/internal/metrics"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/progress"
	"github.com/iantaiahn/topicscraper/internal/telemetry"
)

const finalWriteTimeout = 10 * time.Second

var tracer = telemetry.Tracer("github.com/iantaiahn/topicscraper/internal/worker")

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion event per finished job. Empty disables publishing.
	Topic string
	// JobTimeout bounds a whole job. Zero means no bound beyond the fetch's own deadlines.
	JobTimeout time.Duration
	// Headless is used when a job does not say otherwise.
	Headless bool
}

// Worker consumes queue items and executes the pipeline.
type Worker struct {
	queue     jobs.Queue
	store     jobs.Store
	runner    Runner
	publisher jobs.Publisher
	emitter   progress.Emitter
	sampler   memory.Sampler
	clock     jobs.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher, emitter and sampler are optional.
func New(
	queue jobs.Queue,
	store jobs.Store,
	runner Runner,
	publisher jobs.Publisher,
	emitter progress.Emitter,
	sampler memory.Sampler,
	clock jobs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.EmitterFunc(func(progress.Event) {})
	}
	return &Worker{
		queue:     queue,
		store:     store,
		runner:    runner,
		publisher: publisher,
		emitter:   emitter,
		sampler:   sampler,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, jobs.ErrQueueClosed) {
				w.logger.Info("queue closed; worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Completion is published once per finished job.
type Completion struct {
	JobID      string      `json:"job_id"`
	URL        string      `json:"url"`
	Status     jobs.Status `json:"status"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	ReportURI  string      `json:"report_uri,omitempty"`
	Topics     int         `json:"topics"`
	TextLength int         `json:"text_length"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Attributes exposes filterable message attributes.
func (c Completion) Attributes() map[string]string {
	attrs := map[string]string{"job_id": c.JobID, "status": string(c.Status)}
	if c.ErrorKind != "" {
		attrs["error_kind"] = c.ErrorKind
	}
	return attrs
}

// Process runs one job to a terminal state.
func (w *Worker) Process(ctx context.Context, item jobs.QueueItem) {
	ctx, span := tracer.Start(telemetry.Extract(ctx, item.Trace), "worker.job",
		trace.WithAttributes(attribute.String("job.id", item.JobID), telemetry.URL(item.URL)))
	var runErr error
	defer func() { telemetry.End(span, runErr) }()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.URL))
	start := w.clock.Now()

	if _, err := w.store.Update(ctx, item.JobID, jobs.Update{
		Status:   jobs.StatusProcessing,
		Progress: 5,
		Message:  "Starting scrape",
		At:       start,
	}); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			logger.Info("job removed before it started")
			return
		}
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.emitter.Emit(progress.Event{JobID: item.JobID, TS: start, Stage: progress.StageJobStart, URL: item.URL, Progress: 5})

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	headless := w.cfg.Headless
	if item.Options.Headless != nil {
		headless = *item.Options.Headless
	}
	res, runErr := w.run(jobCtx, logger, pipeline.Request{
		URL:              item.URL,
		Headless:         headless,
		MemoryLimitMB:    item.Options.MemoryLimitMB,
		MaxContentLength: item.Options.MaxContentLength,
		Progress:         w.reporter(jobCtx, item),
	})

	// The final write must land even when shutdown cancelled the job.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	done := w.clock.Now()
	update, evt, completion := w.finish(item, res, runErr, done)
	evt.Dur = done.Sub(start)
	if _, err := w.store.Update(writeCtx, item.JobID, update); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(update.Status))
	w.emitter.Emit(evt)
	w.publish(writeCtx, logger, completion)
}

func (w *Worker) run(ctx context.Context, logger *zap.Logger, req pipeline.Request) (res pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", zap.Any("panic", r))
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, req)
}

// reporter forwards pipeline progress to the emitter with a memory sample.
func (w *Worker) reporter(ctx context.Context, item jobs.QueueItem) func(int, string) {
	return func(pct int, message string) {
		w.emitter.Emit(progress.Event{
			JobID:    item.JobID,
			TS:       w.clock.Now(),
			Stage:    progress.StageJobProgress,
			URL:      item.URL,
			Progress: clamp(pct),
			Message:  message,
			MemoryMB: w.sampleMB(ctx),
		})
	}
}

func (w *Worker) sampleMB(ctx context.Context) float64 {
	if w.sampler == nil {
		return 0
	}
	sample, err := w.sampler.Sample(ctx)
	if err != nil {
		return 0
	}
	return sample.ResidentMB
}

func (w *Worker) finish(
	item jobs.QueueItem,
	res pipeline.Result,
	runErr error,
	at time.Time,
) (jobs.Update, progress.Event, Completion) {
	completion := Completion{JobID: item.JobID, URL: item.URL, FinishedAt: at}
	evt := progress.Event{JobID: item.JobID, TS: at, URL: item.URL, Progress: 100}

	if runErr != nil {
		kind := pipeline.KindOf(runErr).String()
		message := "Error: " + runErr.Error()
		completion.Status = jobs.StatusFailed
		completion.ErrorKind = kind
		completion.Error = runErr.Error()
		evt.Stage = progress.StageJobError
		evt.Kind = kind
		evt.Message = message
		return jobs.Update{
			Status:    jobs.StatusFailed,
			Progress:  100,
			Message:   message,
			Error:     runErr.Error(),
			ErrorKind: kind,
			At:        at,
		}, evt, completion
	}

	message := "Processing completed successfully"
	completion.Status = jobs.StatusCompleted
	completion.ReportURI = res.ReportURI
	completion.Topics = len(res.Topics)
	completion.TextLength = res.TextLength
	evt.Stage = progress.StageJobDone
	evt.Message = message
	evt.MemoryMB = res.PeakMemoryMB
	return jobs.Update{
		Status:   jobs.StatusCompleted,
		Progress: 100,
		Message:  message,
		MemoryMB: res.PeakMemoryMB,
		Result:   &res,
		At:       at,
	}, evt, completion
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, c Completion) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, c)
	if err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", id), zap.String("status", string(c.Status)))
}

func clamp(pct int) int {
	return max(0, min(100, pct))
}
