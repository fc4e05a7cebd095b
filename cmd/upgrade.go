package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/internal/instance"
)

func init() {
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(reindexCmd)
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Apply pending structural and required data migrations",
	Long: `Apply every pending structural and required data migration of the run,
event log and schedule storage, in that order. Each applied step is
printed as <domain>/<step>.

Steps that already ran are skipped, so an interrupted upgrade is resumed
by running it again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			result, err := inst.Upgrade(ctx)
			printApplied(cmd, "upgrade", result)
			return err
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Run pending optional data migrations",
	Long: `Run the optional data migrations that rebuild secondary indexes and
summary columns. They can take a while on large deployments and are safe
to run while the orchestrator is serving traffic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			result, err := inst.Reindex(ctx)
			printApplied(cmd, "reindex", result)
			return err
		})
	},
}
