package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/internal/instance"
)

var wipeYes bool

func init() {
	rootCmd.AddCommand(wipeCmd)
	wipeCmd.Flags().BoolVar(&wipeYes, "yes", false, "Confirm deleting every row")
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all rows and migration markers from every storage domain",
	Long: `Delete every row of the run, event log and schedule tables and forget
which migrations were applied. The tables themselves are kept; the next
upgrade replays every step against them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeYes {
			return errors.New("refusing to wipe without --yes")
		}
		return withInstance(cmd, func(ctx context.Context, inst *instance.Instance) error {
			if err := inst.Wipe(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s storage wiped\n", okMark("✓"))
			return nil
		})
	},
}
