// Package cli is the sparkbox command-line entrypoint, mirroring
// helixml-helix's cmd/helix package shape: a thin cobra root plus one
// subcommand package-level file per verb.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sparkbox",
		Short: "SparkBox",
		Long:  "SparkBox kiosk station: camera capture, AI pipeline, and voice chat.",
	}
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
