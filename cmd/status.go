package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/storage"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			status, err := inst.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range storage.Domains() {
				_, _ = fmt.Fprintf(out, "%s\n", d)
				for _, st := range status[d] {
					mark, when := warnMark("✗"), "pending"
					if st.Applied {
						mark, when = okMark("✓"), st.AppliedAt.UTC().Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(out, "  %s %-36s %-14s %s\n", mark, st.Step.Name, st.Step.Kind, when)
				}
			}
			return nil
		})
	},
}
