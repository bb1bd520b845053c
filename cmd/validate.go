package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stackctl/internal/config"
	"stackctl/internal/orchestrator"
)

var validateStackFile string

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the stack file and print the computed start order",
		Long: `Parses the stack file, applies defaults, and validates the service
topology (unknown dependencies, cycles, missing runtime resources)
without starting anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(validateStackFile)
			if err != nil {
				return err
			}

			graph, err := orchestrator.Plan(&cfg)
			if err != nil {
				return err
			}

			order := graph.TopologicalOrder()
			names := make([]string, len(order))
			for i, id := range order {
				names[i] = string(id)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d services, start order: %s\n",
				validateStackFile, len(cfg.Services), strings.Join(names, " -> "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&validateStackFile, "file", "f", "stack.yaml", "path to the stack file")
	return cmd
}
