package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/service"
)

const closeTimeout = 10 * time.Second

type crawlOptions struct {
	source string
	days   int
	asJSON bool
}

// newCrawlCmd runs a single crawl in the foreground. Progress goes to stderr
// and the ranked results to stdout.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print the ranked articles",
		Example: `  newscrawler crawl --source vnexpress
  newscrawler crawl --source tuoitre --days 3 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				app.Close(closeCtx)
			}()
			return runCrawl(ctx, app.Service(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "source to crawl, e.g. vnexpress or tuoitre")
	cmd.Flags().IntVarP(&opts.days, "days", "d", 0, "number of past days to cover (default from crawler.default_days)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the run as JSON instead of a table")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runCrawl(ctx context.Context, svc *service.Service, opts *crawlOptions, out, errOut io.Writer) error {
	sink := crawler.ProgressFunc(func(percent int, message string) {
		fmt.Fprintf(errOut, "[%3d%%] %s\n", percent, message)
	})
	run, err := svc.Crawl(ctx, service.Request{
		Source:  opts.source,
		Days:    opts.days,
		Trigger: service.TriggerCLI,
	}, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		return nil
	}
	renderResults(out, run)
	return nil
}

func renderResults(out io.Writer, run service.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s, last %d days (run %s)", run.Source, run.Days, run.ID)
	t.AppendHeader(table.Row{"#", "Title", "Reactions", "Comments", "URL"})
	for i, r := range run.Results {
		t.AppendRow(table.Row{i + 1, text.Trim(r.Title, 60), r.Reactions, r.Comments, r.URL})
	}
	t.AppendFooter(table.Row{"", "", "", "", run.UpdatedAt.Format(time.RFC3339)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}
