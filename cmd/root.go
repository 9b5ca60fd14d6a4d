// Package cmd defines and implements the CLI commands for the newscrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/config"
	"github.com/JakeFAU/news-engagement-crawler/internal/logging"
	"github.com/JakeFAU/news-engagement-crawler/internal/server"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

// App is the slice of *server.App the commands use. Tests inject fakes.
type App interface {
	Service() *service.Service
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, server.WithLogger(logger))
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "newscrawler",
		Short: "Ranks recent news articles by reader engagement.",
		Long: `newscrawler discovers recent articles from Vietnamese news sites through
their sitemaps, measures reader reactions and comments, and keeps the most
engaged articles per source available over HTTP.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newSourcesCmd(opts))
	return cmd
}

// loadRuntime reads config and builds the logger shared by every command.
func loadRuntime(opts *rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
