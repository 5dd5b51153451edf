package command

import (
	"github.com/spf13/cobra"
)

// NewSubcommandGroup returns a command that only exists to group its
// subcommands; invoking it bare prints the help text.
func NewSubcommandGroup(use string, short string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}
