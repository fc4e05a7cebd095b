package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/internal/bigint"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/storage"
)

func init() {
	rootCmd.AddCommand(bigintCmd)
}

var bigintCmd = &cobra.Command{
	Use:   "migrate-bigint",
	Short: "Widen 32-bit id columns to 64 bits",
	Long: `Convert every 32-bit "id" column of the storage tables to BIGINT in
place. Existing ids are kept and sequences continue where they were.

The ALTER statements rewrite each table and hold an exclusive lock while
they do. SQLite databases are already 64-bit and are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			report, err := bigint.RunInstance(ctx, inst)
			for _, d := range storage.Domains() {
				for _, table := range report[d] {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", d, table)
				}
			}
			if err == nil && len(report) == 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s all id columns are already 64-bit\n", okMark("✓"))
			}
			return err
		})
	},
}
