package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Intermediate progress goes to debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.Int("progress", evt.Progress),
			zap.String("message", evt.Message),
			zap.Float64("memory_mb", evt.MemoryMB),
		}
		switch evt.Stage {
		case progress.StageJobProgress:
			s.logger.Debug("job progress", fields...)
		case progress.StageJobError:
			fields = append(fields, zap.String("kind", evt.Kind), zap.Duration("dur", evt.Dur))
			s.logger.Warn("job failed", fields...)
		case progress.StageJobDone:
			fields = append(fields, zap.Duration("dur", evt.Dur))
			s.logger.Info("job completed", fields...)
		default:
			s.logger.Info("job started", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
