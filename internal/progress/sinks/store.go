package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/progress"
)

// Updater is the slice of jobs.Store the sink needs.
type Updater interface {
	Update(ctx context.Context, id string, update jobs.Update) (jobs.Job, error)
}

// StoreSink persists JOB_PROGRESS events onto the job record so status
// polling sees them. Lifecycle transitions are written by the worker itself.
type StoreSink struct {
	store  Updater
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(store Updater, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume writes each progress event. Jobs deleted mid-run are skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageJobProgress {
			continue
		}
		_, err := s.store.Update(ctx, evt.JobID, jobs.Update{
			Status:   jobs.StatusProcessing,
			Progress: evt.Progress,
			Message:  evt.Message,
			MemoryMB: evt.MemoryMB,
			At:       evt.TS,
		})
		if errors.Is(err, jobs.ErrNotFound) {
			s.logger.Debug("progress for unknown job", zap.String("job_id", evt.JobID))
			continue
		}
		if err != nil {
			return fmt.Errorf("update job %s: %w", evt.JobID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
