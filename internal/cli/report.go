package genbench

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/genbench/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Group commands for benchmark reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "show FILE",
		Short:       "Render a csv, json or arrow report as a table",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"config": configNone},
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := report.Read(args[0])
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.RenderTable(results.Rows))
			for _, model := range results.Failed {
				fmt.Fprintf(out, "Skipped: %s\n", model)
			}
			return nil
		},
	})
	return cmd
}
