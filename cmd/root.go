// Package cmd defines and implements the CLI commands for the topicscraper
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iantaiahn/topicscraper/internal/app"
	"github.com/iantaiahn/topicscraper/internal/config"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/scraper"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container. Tests
// inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Fetch(ctx context.Context, req scraper.Request) scraper.Outcome
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Config() config.Config
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "topicscraper",
		Short: "Scrape web pages in a headless browser and model their topics.",
		Long: `topicscraper loads pages in a memory-bounded headless browser, extracts
the readable text, and turns it into topic clusters and word clouds. It runs
as an HTTP job service (serve) or as a one-shot command (fetch).`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); TOPICS_* env vars override it")
	cmd.AddCommand(newServeCmd(), newFetchCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
