// Package cmd defines and implements the CLI commands for the vidharvest
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vidharvest",
		Short: "Collects short public videos matching a topical query set.",
		Long: `vidharvest discovers candidate videos for a set of search terms and
acquires them through an ordered chain of download strategies, recording
verifiable metadata for every artifact it saves.`,
		SilenceUsage: true,
	}

	// A local .env may carry the API credential; absence is fine.
	_ = godotenv.Load()

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
