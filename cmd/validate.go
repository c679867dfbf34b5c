package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stepweave/runtime"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition without serving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := runtime.LoadWorkflow(args[0])
		if err != nil {
			return err
		}
		def := store.Definition()
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d ui steps, %d pipeline steps, %d providers\n",
			def.Info.Name, def.Info.Version, len(def.UISteps), len(def.Pipeline), len(def.Providers))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
