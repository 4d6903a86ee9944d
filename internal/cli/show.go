// internal/cli/show.go
package genbench

import (
	"github.com/spf13/cobra"
)

// newShowCmd builds the 'show' command group for displaying resources.
func newShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Group commands for displaying resources",
		Long:  `The 'show' command groups subcommands that display resources or information related to genbench.`,
	}
	cmd.AddCommand(newShowConfigCmd(a))
	return cmd
}
