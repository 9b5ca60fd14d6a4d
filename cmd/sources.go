package cmd

import (
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-engagement-crawler/internal/config"
)

func newSourcesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured news sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Source", "Enabled", "Rank By"})
			for _, name := range sortedSourceNames(cfg) {
				src := cfg.Sources[name]
				t.AppendRow(table.Row{name, src.Enabled, src.RankBy})
			}
			t.Render()
			return nil
		},
	}
}

func sortedSourceNames(cfg config.Config) []string {
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
