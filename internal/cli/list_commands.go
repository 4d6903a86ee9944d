// internal/cli/list_commands.go
package genbench

import "github.com/spf13/cobra"

// newListCmd builds 'list commands', which prints the available commands
// and subcommands in a hierarchical, indented, two-column format.
func newListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Group commands for listing resources",
	}
	listCmd.AddCommand(&cobra.Command{
		Use:         "commands",
		Short:       "List all commands and subcommands in two columns",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": configNone},
		Run: func(cmd *cobra.Command, args []string) {
			runListCommands(cmd.OutOrStdout(), cmd.Root())
		},
	})
	return listCmd
}
