package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"stackctl/pkg/logging"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Run a health-gated stack of local services",
	Long: `stackctl starts a set of services (containers or local processes)
in dependency order, where "order" is gated on health: a service is
started only once everything it depends on reports healthy, not merely
started. It keeps supervising the stack afterwards, restarting services
per their restart policy, and tears everything down in reverse order on
shutdown.`,
	// SilenceUsage prevents printing the usage message on errors we
	// handle ourselves (bad config, failed services).
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitForCLI(logging.ParseLevel(logLevel), os.Stderr)
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stackctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}
