package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepweave",
	Short: "Declarative workflow runtime",
	Long: `stepweave interprets declarative workflow definitions that pair a
UI step sequence with an executable pipeline, and serves the session API
clients drive it with.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
