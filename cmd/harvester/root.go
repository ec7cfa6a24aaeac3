package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests paginated search results into a local store.",
		Long: `harvester exchanges consumer credentials for an app-only bearer token,
requests the first page of a search and follows the continuation cursor on a
fixed cadence until the result set is exhausted. Every page is upserted into
SQLite or Postgres.`,
		SilenceUsage: true,

		// A missing .env is fine; secrets may come from the environment or the config file.
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newRunCmd())

	return cmd
}
