package db

import (
	"github.com/kashguard/go-threshold-signing/internal/util/command"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("db", "Database management tools",
		newMigrate(),
	)
}
