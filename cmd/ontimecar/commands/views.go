package commands

import (
	"io"

	"ontimecar-scraper/internal/schema"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newViewsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List the configured views without starting a browser.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			reg, err := schema.NewRegistry(cfg.Views)
			if err != nil {
				return err
			}
			renderViews(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func renderViews(w io.Writer, reg *schema.Registry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"view", "columns", "identifier", "cardinality", "not found", "date", "url"})
	for _, v := range reg.All() {
		info := v.Info()
		t.AppendRow(table.Row{
			info.View,
			info.Total,
			info.IdentifierField,
			info.Cardinality,
			info.NotFound,
			info.DateField,
			info.URL,
		})
	}
	t.Render()
}
