// internal/cli/benchmark.go
package genbench

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/genbench/internal/benchmark"
	"github.com/mwiater/genbench/internal/logging"
	"github.com/mwiater/genbench/internal/report"
)

// newBenchmarkCmd builds 'benchmark', which times every configured model
// over every input/output pair and writes the dated report.
func newBenchmarkCmd(a *app) *cobra.Command {
	var (
		useTUI   bool
		hideText bool
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run latency benchmarks for the models defined in the config file",
		Long: `Run warm_up + num_trials greedy generations for every model and input/output
pair, then write results-YYYY-MM-DD.<format> into results_dir.

A model that fails to load, tokenize or generate aborts the run and nothing is
written, unless --continue-on-error is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if useTUI {
				// The progress view owns the terminal until the command returns.
				if err := a.initLogging(nil); err != nil {
					return err
				}
				defer func() { _ = a.initLogging(cmd.ErrOrStderr()) }()
			}
			logging.LogEvent("Benchmarking %d models over pairs %v (warm_up=%d num_trials=%d)",
				len(cfg.ModelEntries()), cfg.InOutPairs, cfg.WarmUp, cfg.NumTrials)

			var (
				results benchmark.Results
				err     error
			)
			if useTUI {
				results, err = runTUI(cmd.Context(), cfg, func(ctx context.Context, obs benchmark.Observer) (benchmark.Results, error) {
					return runBenchmark(ctx, cfg, benchmark.Results{}, obs)
				})
			} else {
				obs := benchmark.ConsoleObserver{Out: cmd.OutOrStdout(), HideText: hideText}
				results, err = runBenchmark(cmd.Context(), cfg, benchmark.Results{}, obs)
			}
			if err != nil {
				return err
			}

			paths, err := report.Write(cfg.ResultsDir, cfg.ReportFormats, results, now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.RenderTable(results.Rows))
			for _, path := range paths {
				fmt.Fprintf(out, "Results written to %s\n", path)
			}
			for _, model := range results.Failed {
				fmt.Fprintf(out, "Skipped %s after an error, see the log for details\n", model)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show an interactive progress view")
	cmd.Flags().BoolVar(&hideText, "quiet-text", false, "print only the latency of each call, not its decoded output")
	cmd.Flags().Bool("continue-on-error", false, "skip models that fail instead of aborting the run")
	_ = a.v.BindPFlag("continue_on_error", cmd.Flags().Lookup("continue-on-error"))
	return cmd
}
