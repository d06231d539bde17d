package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/vuflow/internal/runtime/compiler"
	"github.com/drblury/vuflow/internal/runtime/config"
	"github.com/drblury/vuflow/internal/runtime/processors"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a run file without connecting anywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(args[0])
			if err != nil {
				return err
			}

			reg := processors.NewRegistry()
			processors.RegisterBuiltins(reg)
			pipeline, err := compiler.Compile(doc.Scenario, reg, compiler.Options{})
			if err != nil {
				return fmt.Errorf("compile scenario: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d steps, transport %s, %d virtual users)\n",
				args[0], pipeline.Len(), doc.Config.PubSubSystem, doc.Config.VUs)
			return nil
		},
	}
}
