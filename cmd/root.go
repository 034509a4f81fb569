// Package cmd defines the CLI commands for the vacancy-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketscope/vacancy-crawler/internal/clock/system"
	"github.com/marketscope/vacancy-crawler/internal/config"
	"github.com/marketscope/vacancy-crawler/internal/logging"
	"github.com/marketscope/vacancy-crawler/internal/progress"
	"github.com/marketscope/vacancy-crawler/internal/progress/sinks"
	"github.com/marketscope/vacancy-crawler/internal/runner"
	"github.com/marketscope/vacancy-crawler/internal/scrape"
	"github.com/marketscope/vacancy-crawler/internal/store"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vacancy-crawler",
		Short: "Scrapes hh.ru job listings into Postgres",
		Long: `vacancy-crawler collects job vacancies from hh.ru search pages,
normalizes them and stores them deduplicated in Postgres. It can run a
single search from the command line, serve an HTTP API, export stored
listings, and report aggregate statistics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

// Execute is the main entry point for the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger every command shares.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// buildRunner assembles the scraping pipeline. The caller owns the returned
// store and must Close it.
func buildRunner(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runner.Runner, *store.Postgres, error) {
	db, err := store.NewPostgres(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}

	fetcher, err := scrape.NewFetcher(scrape.FetcherConfig{
		RequestTimeout: cfg.Scrape.RequestTimeout,
		RequestDelay:   cfg.Scrape.RequestDelay,
		MaxRetries:     cfg.Scrape.MaxRetries,
		UserAgents:     cfg.Scrape.UserAgents,
	}, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}

	broadcaster := progress.NewBroadcaster(logger,
		sinks.NewLogSink(logger),
		sinks.NewMetricsSink(),
	)

	r := runner.New(runner.Config{
		BaseURL:   cfg.Scrape.BaseURL,
		PageLimit: cfg.Scrape.PageLimit,
		AreaID:    cfg.AreaID,
	}, fetcher, scrape.NewParser(cfg.Scrape.BaseURL), db, system.New(), broadcaster, logger)
	return r, db, nil
}
