// Package cli implements the vuflow command line.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// NewRootCmd builds the command tree. Tests build a fresh tree per case.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "vuflow",
		Short:   "Simulate virtual users over pub/sub",
		Version: version,
		Long: `vuflow runs a declarative scenario for many virtual users at once.
Each user connects to a pub/sub broker, publishes templated messages and
waits for correlated acknowledges, while counters, latencies and match
results are collected into a summary.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error (overrides the file)")
	root.PersistentFlags().String("log-format", "", "log format: text or json (overrides the file)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the root command. main turns the error into an exit code.
func Execute() error {
	return NewRootCmd().Execute()
}
