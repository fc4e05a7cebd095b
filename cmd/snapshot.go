package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/driver"
	"github.com/lockplane/metamigrate/internal/snapshot"
	"github.com/lockplane/metamigrate/internal/storage"
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Restore bundled legacy databases for rehearsing an upgrade",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bundled snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := snapshot.Names()
		if err != nil {
			return err
		}
		for _, name := range names {
			d, _ := snapshotDomain(name)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, d)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a snapshot into its domain's SQLite storage",
	Long: `Restore a bundled legacy snapshot into the configured database of the
domain it belongs to. The database must be SQLite and must not hold the
domain's tables yet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		d, err := snapshotDomain(name)
		if err != nil {
			return err
		}
		env, err := resolve()
		if err != nil {
			return err
		}
		url := map[storage.Domain]string{
			storage.DomainRuns:      env.RunStorageURL,
			storage.DomainEventLogs: env.EventLogStorageURL,
			storage.DomainSchedules: env.ScheduleStorageURL,
		}[d]

		db, drv, err := driver.Open(cmd.Context(), url)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if drv.Dialect() != database.DialectSQLite {
			return fmt.Errorf("snapshots can only be restored into SQLite, %s storage is %s", d, drv.Dialect())
		}

		n, err := snapshot.Restore(cmd.Context(), db, name)
		if err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s restored %s into %s storage (%d statements)\n", okMark("✓"), name, d, n)
		return nil
	},
}

func snapshotDomain(name string) (storage.Domain, error) {
	switch name {
	case snapshot.RunsLegacy:
		return storage.DomainRuns, nil
	case snapshot.EventLogsLegacy:
		return storage.DomainEventLogs, nil
	case snapshot.SchedulesLegacy:
		return storage.DomainSchedules, nil
	}
	return "", fmt.Errorf("unknown snapshot %q", name)
}
