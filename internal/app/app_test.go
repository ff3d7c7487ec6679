package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/app"
	"github.com/iantaiahn/topicscraper/internal/browser"
	"github.com/iantaiahn/topicscraper/internal/config"
	"github.com/iantaiahn/topicscraper/internal/memory"
)

type fixedSampler struct{}

func (fixedSampler) Sample(context.Context) (memory.Sample, error) {
	return memory.Sample{ResidentMB: 64, AvailableSystemMB: 4096, PercentOfSystem: 1.5}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Logging.Development = true
	return cfg
}

func failingLauncher(calls *atomic.Int32) browser.Launcher {
	return browser.LauncherFunc(func(context.Context, browser.Options) (browser.Session, error) {
		calls.Add(1)
		return nil, fmt.Errorf("%w: no chrome in test", browser.ErrSessionCreation)
	})
}

func build(t *testing.T, cfg config.Config, calls *atomic.Int32) *app.App {
	t.Helper()
	a, err := app.Build(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithLauncher(failingLauncher(calls)),
		app.WithSampler(fixedSampler{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBuildWithDefaults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := build(t, testConfig(t), &calls)

	assert.Equal(t, app.StoreMemory, a.StoreBackend())
	assert.NotNil(t, a.Fetcher())
	assert.NotNil(t, a.Pipeline())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"memory_mb":64`)
}

func TestBuildFallsBackWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	var calls atomic.Int32
	a := build(t, cfg, &calls)
	assert.Equal(t, app.StoreMemory, a.StoreBackend())
}

func TestBuildAutoFallsBackWhenPostgresIsDown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Postgres.DSN = "postgres://scraper@127.0.0.1:1/scraper?connect_timeout=1"

	var calls atomic.Int32
	a := build(t, cfg, &calls)
	assert.Equal(t, app.StoreMemory, a.StoreBackend())
}

func TestBuildFailsWhenSelectedPostgresIsDown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Jobs.Store = config.StorePostgres
	cfg.Postgres.DSN = "postgres://scraper@127.0.0.1:1/scraper?connect_timeout=1"

	_, err := app.Build(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithSampler(fixedSampler{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres job store init failed")
}

func TestBuildWithPrefetchEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Prefetch.Enabled = true
	cfg.Jobs.Store = config.StoreMemory

	var calls atomic.Int32
	a := build(t, cfg, &calls)
	assert.Equal(t, app.StoreMemory, a.StoreBackend())
	assert.NotNil(t, a.Fetcher())
}

func TestBuildFailsOnBadLocalStorage(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = file

	_, err := app.Build(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithSampler(fixedSampler{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := build(t, testConfig(t), &calls)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestRunProcessesSubmittedJob(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := build(t, testConfig(t), &calls)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start-process/",
		bytes.NewBufferString(`{"url":"https://example.com/story"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	var status struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/"+started.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == "failed"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, status.Message, "Error:")
	assert.Equal(t, int32(1), calls.Load())

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/result/"+started.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), `"error_kind":"error"`)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
