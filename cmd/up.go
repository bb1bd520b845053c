package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stackctl/internal/config"
	"stackctl/internal/orchestrator"
	"stackctl/internal/runtime"
)

var upStackFile string

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack and supervise it until interrupted",
		Long: `Reads the stack file, starts every service once its dependencies are
healthy, and keeps supervising the stack. Ctrl+C stops the services in
reverse dependency order, waiting out each service's grace period before
force-killing it.

The exit code is non-zero when any service ended the run in the Failed
phase.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(upStackFile)
			if err != nil {
				return err
			}

			adapter, err := runtime.New(cfg.Settings)
			if err != nil {
				return err
			}

			orch, err := orchestrator.New(&cfg, adapter)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Stream transitions to the console while the stack runs.
			events := orch.Subscribe()
			printDone := make(chan struct{})
			go func() {
				defer close(printDone)
				for t := range events {
					line := fmt.Sprintf("%s %s",
						labelStyle.Render(t.Label),
						phaseStyle(t.NewPhase).Render(string(t.NewPhase)))
					if t.Err != nil {
						line += dimStyle.Render(fmt.Sprintf("  (%v)", t.Err))
					}
					fmt.Println(line)
				}
			}()

			runErr := orch.Run(ctx)
			<-printDone

			fmt.Println()
			printStatus(orch)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&upStackFile, "file", "f", "stack.yaml", "path to the stack file")
	return cmd
}

// printStatus renders the final per-service summary table.
func printStatus(orch *orchestrator.Orchestrator) {
	for _, snap := range orch.Snapshots() {
		line := fmt.Sprintf("%-20s %s", snap.Label, phaseStyle(snap.Phase).Render(string(snap.Phase)))
		if snap.RestartCount > 0 {
			line += dimStyle.Render(fmt.Sprintf("  restarts=%d", snap.RestartCount))
		}
		if snap.Err != nil {
			line += dimStyle.Render(fmt.Sprintf("  %v", snap.Err))
		}
		fmt.Println(line)
	}
}
