package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore(time.Hour)
	ctx := context.Background()
	created := time.Now().UTC()
	job := jobs.Job{ID: "job-1", URL: "https://example.com", Status: jobs.StatusPending, CreatedAt: created, UpdatedAt: created}

	require.NoError(t, store.Create(ctx, job))
	require.ErrorIs(t, store.Create(ctx, job), jobs.ErrExists)

	got, err := store.Update(ctx, job.ID, jobs.Update{Status: jobs.StatusProcessing, Progress: 40, Message: "Page loaded"})
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.NotNil(t, got.StartedAt)

	_, err = store.Update(ctx, job.ID, jobs.Update{Status: jobs.StatusFailed, Error: "boom", ErrorKind: "error"})
	require.NoError(t, err)

	late, err := store.Update(ctx, job.ID, jobs.Update{Status: jobs.StatusProcessing, Progress: 90})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, late.Status)

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, final.Status)
	assert.Equal(t, "boom", final.Error)
	assert.NotNil(t, final.FinishedAt)

	require.NoError(t, store.Delete(ctx, job.ID))
	_, err = store.Get(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, job.ID), jobs.ErrNotFound)
	_, err = store.Update(ctx, job.ID, jobs.Update{Progress: 1})
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStoreExpiry(t *testing.T) {
	t.Parallel()

	store := NewJobStore(time.Hour)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, jobs.Job{ID: "old", CreatedAt: now, UpdatedAt: now}))
	now = now.Add(30 * time.Minute)
	require.NoError(t, store.Create(ctx, jobs.Job{ID: "new", CreatedAt: now, UpdatedAt: now}))

	now = now.Add(45 * time.Minute)
	_, err := store.Get(ctx, "old")
	require.ErrorIs(t, err, jobs.ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Create(ctx, jobs.Job{ID: "old", CreatedAt: now, UpdatedAt: now}))
}

func TestJobStoreListOrder(t *testing.T) {
	t.Parallel()

	store := NewJobStore(0)
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, store.Create(ctx, jobs.Job{ID: "b", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Create(ctx, jobs.Job{ID: "a", CreatedAt: base}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}
