package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	environmentName string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "metamigrate",
	Short: "Schema migrations for orchestrator metadata storage",
	Long: `metamigrate upgrades the run, event log and schedule storage of an
orchestrator deployment to the current schema and backfills the data the
new columns need.

Connection strings come from metamigrate.toml, a .env.<environment> file,
or METAMIGRATE_* environment variables. Without any, the storage lives in
SQLite files under ./.metamigrate.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&environmentName, "environment", "", "Named environment from metamigrate.toml (defaults to default_environment)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Version = getVersion()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
