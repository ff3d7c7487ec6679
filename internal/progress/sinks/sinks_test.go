package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/progress"
	memstore "github.com/iantaiahn/topicscraper/internal/storage/memory"
)

var at = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStoreSinkWritesProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.NewJobStore(0)
	require.NoError(t, store.Create(ctx, jobs.Job{ID: "j1", URL: "https://example.com", Status: jobs.StatusPending, CreatedAt: at, UpdatedAt: at}))

	sink := NewStoreSink(store, zap.NewNop())
	err := sink.Consume(ctx, []progress.Event{
		{JobID: "j1", TS: at, Stage: progress.StageJobStart},
		{JobID: "j1", TS: at.Add(time.Second), Stage: progress.StageJobProgress, Progress: 40, Message: "Reading page", MemoryMB: 210},
		{JobID: "missing", TS: at, Stage: progress.StageJobProgress, Progress: 10},
	})
	require.NoError(t, err)

	job, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, job.Status)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, "Reading page", job.Message)
	assert.InDelta(t, 210, job.MemoryMB, 0.001)
	require.NotNil(t, job.StartedAt)
}

func TestStoreSinkIgnoresLateProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.NewJobStore(0)
	require.NoError(t, store.Create(ctx, jobs.Job{ID: "j1", Status: jobs.StatusCompleted, Progress: 100, CreatedAt: at, UpdatedAt: at}))

	sink := NewStoreSink(store, nil)
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "j1", TS: at, Stage: progress.StageJobProgress, Progress: 85},
	}))

	job, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

type failingUpdater struct{}

func (failingUpdater) Update(context.Context, string, jobs.Update) (jobs.Job, error) {
	return jobs.Job{}, errors.New("store down")
}

func TestStoreSinkReturnsStoreErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingUpdater{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "j1", TS: at, Stage: progress.StageJobProgress, Progress: 10},
	})
	require.ErrorContains(t, err, "store down")
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSink(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: at, Stage: progress.StageJobStart},
		{JobID: "a", TS: at, Stage: progress.StageJobProgress, Progress: 20, MemoryMB: 300},
		{JobID: "a", TS: at, Stage: progress.StageJobDone, Progress: 100, Dur: 3 * time.Second},
		{JobID: "b", TS: at, Stage: progress.StageJobError, Kind: "timeout", Dur: 30 * time.Second},
	}))

	assert.InDelta(t, 1, testutil.ToFloat64(sink.events.WithLabelValues("JOB_PROGRESS")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.events.WithLabelValues("JOB_ERROR")), 0)
	assert.InDelta(t, float64(at.Unix()), testutil.ToFloat64(sink.lastReport.WithLabelValues("JOB_DONE")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(sink.runtime))
	assert.Equal(t, 1, testutil.CollectAndCount(sink.memory))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", Stage: progress.StageJobStart},
		{JobID: "a", Stage: progress.StageJobProgress, Progress: 50},
		{JobID: "a", Stage: progress.StageJobError, Kind: "timeout"},
		{JobID: "b", Stage: progress.StageJobDone},
	}))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "timeout", entries[2].ContextMap()["kind"])
	assert.Equal(t, "job completed", entries[3].Message)
}
