package cmd

import (
	"fmt"
	"os"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/logger"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

// cfg is loaded by main before Execute
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoice-server",
	Short: "Invoice service of the driving school back office",
	Long: `Issues, tracks and exports invoices of the driving school.

Invoices move through draft, sent, partially paid, paid, cancelled and
refunded. Every change is recorded in an append-only audit trail.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		return cfg.Validate()
	},
}

// Execute runs the command selected on the command line
func Execute(c *config.Config) {
	cfg = c
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
