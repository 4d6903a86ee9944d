package appconfig

import (
	"fmt"
	"io"

	"github.com/k0kubun/pp"
)

// ShowConfig prints the current configuration summary followed by the
// resolved model entries.
func ShowConfig(out io.Writer, cfg Config) {
	if cfg.ConfigPath == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.ConfigPath)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Warm up:         %d\n", cfg.WarmUp)
	fmt.Fprintf(out, "  Trials:          %d\n", cfg.NumTrials)
	fmt.Fprintf(out, "  In/out pairs:    %v\n", cfg.InOutPairs)
	fmt.Fprintf(out, "  Model hub:       %s\n", cfg.LocalModelHub)
	fmt.Fprintf(out, "  Prompt dir:      %s\n", cfg.PromptDir)
	fmt.Fprintf(out, "  Results dir:     %s\n", cfg.ResultsDir)
	fmt.Fprintf(out, "  Report formats:  %v\n", cfg.ReportFormats)
	fmt.Fprintf(out, "  Request timeout: %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintln(out, "Models:")
	pp.Fprintln(out, cfg.ModelEntries())
}
