// Command btbench exercises the external-memory B+ tree.
//
// Subcommands:
//
//	shell   interactive insert/erase/dump driver on an anonymous tree
//	bitmap  free-space bitmap churn speed test
//	bench   workload benchmark against a pebble LSM, with CSV and plot
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool
	logger  = zap.NewNop()
)

func main() {
	root := &cobra.Command{
		Use:           "btbench",
		Short:         "Exercise the external-memory B+ tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newShellCmd(), newBitmapCmd(), newBenchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "btbench:", err)
		os.Exit(1)
	}
}
