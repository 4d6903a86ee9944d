// internal/cli/show_config.go
package genbench

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/genbench/internal/appconfig"
)

// newShowConfigCmd builds 'show config', which prints the merged and
// validated configuration.
func newShowConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show config settings",
		Long:  `Show config settings after the config file, GENBENCH_* environment variables and flags have been merged and validated.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			appconfig.ShowConfig(cmd.OutOrStdout(), a.cfg)
		},
	}
}
