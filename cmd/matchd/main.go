// Command matchd runs the roommate matching service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "matchd",
		Short:         "Roommate matching service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (env ROOMMATE_* overrides it)")

	root.AddCommand(newServeCmd(&configPath), newMigrateCmd(&configPath), newLoadCmd(&configPath))
	return root
}
