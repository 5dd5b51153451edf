package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kashguard/go-threshold-signing/cmd/db"
	"github.com/kashguard/go-threshold-signing/cmd/keys"
	"github.com/kashguard/go-threshold-signing/cmd/server"
)

func main() {
	root := &cobra.Command{
		Use:   "threshold-signing",
		Short: "Threshold Schnorr signing session service",
	}

	root.AddCommand(
		server.New(),
		db.New(),
		keys.New(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
