package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iantaiahn/topicscraper/internal/config"
	"github.com/iantaiahn/topicscraper/internal/extract"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/scraper"
)

type fakeApp struct {
	cfg        config.Config
	outcome    scraper.Outcome
	result     pipeline.Result
	processErr error

	fetched   []scraper.Request
	processed []pipeline.Request
	ran       bool
	closed    bool
}

func (f *fakeApp) Run(context.Context) error { f.ran = true; return nil }

func (f *fakeApp) Fetch(_ context.Context, req scraper.Request) scraper.Outcome {
	f.fetched = append(f.fetched, req)
	return f.outcome
}

func (f *fakeApp) Process(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.processed = append(f.processed, req)
	return f.result, f.processErr
}

func (f *fakeApp) Config() config.Config { return f.cfg }

func (f *fakeApp) Close(context.Context) error { f.closed = true; return nil }

// withFakeApp swaps the factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, fake *fakeApp) *string {
	t.Helper()
	var gotConfig string
	orig := newApp
	newApp = func(_ context.Context, cfgFile string) (App, error) {
		gotConfig = cfgFile
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotConfig
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestServeRunsAndClosesApp(t *testing.T) {
	fake := &fakeApp{cfg: defaultConfig(t)}
	cfgFile := withFakeApp(t, fake)

	_, err := execute(t, "serve", "--config", "topics.yaml")
	require.NoError(t, err)
	assert.True(t, fake.ran)
	assert.True(t, fake.closed)
	assert.Equal(t, "topics.yaml", *cfgFile)
}

func TestFetchPrintsOutcome(t *testing.T) {
	fake := &fakeApp{
		cfg: defaultConfig(t),
		outcome: scraper.Outcome{
			Kind:    scraper.KindSuccess,
			Content: extract.Content{Text: "Hello world", Length: 11, Tier: extract.TierSelector},
			Page:    scraper.Page{Title: "Greeting", HTMLLength: 120},
		},
	}
	withFakeApp(t, fake)

	out, err := execute(t, "fetch", "https://example.com", "--headful", "--max-content-length", "500")
	require.NoError(t, err)

	var summary fetchSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "success", summary.Kind)
	assert.Equal(t, "selector", summary.Tier)
	assert.Equal(t, "Hello world", summary.Text)
	assert.Equal(t, "Greeting", summary.Page.Title)

	require.Len(t, fake.fetched, 1)
	assert.False(t, fake.fetched[0].Headless)
	assert.Equal(t, 500, fake.fetched[0].MaxContentLength)
	assert.Equal(t, fake.cfg.Memory.LimitMB, fake.fetched[0].MemoryLimitMB)
	assert.True(t, fake.closed)
}

func TestFetchFailureReturnsError(t *testing.T) {
	fake := &fakeApp{
		cfg:     defaultConfig(t),
		outcome: scraper.Outcome{Kind: scraper.KindTimeout, Message: "Timeout: page never settled"},
	}
	withFakeApp(t, fake)

	out, err := execute(t, "fetch", "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout")
	assert.Contains(t, out, `"kind": "timeout"`)
}

func TestFetchWithTopicsRunsPipeline(t *testing.T) {
	fake := &fakeApp{
		cfg:    defaultConfig(t),
		result: pipeline.Result{URL: "https://example.com", CleanedText: []string{"hello world"}},
	}
	withFakeApp(t, fake)

	out, err := execute(t, "fetch", "https://example.com", "--topics")
	require.NoError(t, err)
	assert.Contains(t, out, `"cleaned_text"`)
	require.Len(t, fake.processed, 1)
	assert.True(t, fake.processed[0].SkipReport)
	assert.Empty(t, fake.fetched)
}

func TestFetchWithTopicsPropagatesError(t *testing.T) {
	fake := &fakeApp{cfg: defaultConfig(t), processErr: errors.New("boom")}
	withFakeApp(t, fake)

	_, err := execute(t, "fetch", "https://example.com", "--topics", "--report")
	require.Error(t, err)
	require.Len(t, fake.processed, 1)
	assert.False(t, fake.processed[0].SkipReport)
}

func TestFetchRequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{cfg: defaultConfig(t)})

	_, err := execute(t, "fetch")
	require.Error(t, err)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("no config") }
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}
