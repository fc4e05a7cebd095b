package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// Step names.
const (
	AddRunTimeColumns      = "add_run_time_columns"
	ConvertRunTimeColumns  = "convert_run_time_columns"
	AddBulkActionsColumns  = "add_bulk_actions_columns"
	AddKVSTable            = "add_kvs_table"
	AddPrimaryKeys         = "add_primary_keys"
	AddBackfillIDColumn    = "add_backfill_id_column"
	BackfillIDColumnData   = "backfill_id_column_data"
	AddRunsByBackfillIDIdx = "add_runs_by_backfill_id_idx"
	RunStartEndOverwritten = "run_start_end_overwritten"
)

const runStartEndBatchSize = 500

// RunEventSource reads run lifecycle times from event log storage. The
// run_start_end_overwritten step uses it to recompute start and end times;
// it never writes to event log storage.
type RunEventSource interface {
	// RunTimes returns the epoch seconds of the run's start event and of
	// its terminal event. Either is nil when the event is missing.
	RunTimes(ctx context.Context, runID string) (start, end *float64, err error)
}

// Migrations returns the ordered steps of run storage.
func Migrations(events RunEventSource) *migration.Registry {
	return migration.NewRegistry(storage.DomainRuns.String(),
		migration.Step{
			Name:        AddRunTimeColumns,
			Kind:        migration.Structural,
			Description: "Add runs.start_time and runs.end_time",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, RunsTable,
					[]string{"start_time", "end_time"},
					[]string{idxRunRange.Name})
			},
		},
		migration.Step{
			Name:        ConvertRunTimeColumns,
			Kind:        migration.Structural,
			Description: "Store run start and end times in double precision",
			Up:          convertRunTimeColumns,
		},
		migration.Step{
			Name:        AddBulkActionsColumns,
			Kind:        migration.Structural,
			Description: "Add bulk_actions.selector_id and bulk_actions.action_type",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, BulkActionsTable,
					[]string{"selector_id", "action_type"},
					[]string{idxBulkActionsActionType.Name, idxBulkActionsSelectorID.Name})
			},
		},
		migration.Step{
			Name:        AddKVSTable,
			Kind:        migration.Structural,
			Description: "Create the kvs table",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, KeyValueStoreTable, nil, []string{idxKVSKeysUnique.Name})
			},
		},
		migration.Step{
			Name:        AddPrimaryKeys,
			Kind:        migration.Structural,
			Description: "Add id primary keys to kvs, instance_info and daemon_heartbeats",
			Up:          addPrimaryKeys,
		},
		migration.Step{
			Name:        AddBackfillIDColumn,
			Kind:        migration.Structural,
			Description: "Add runs.backfill_id",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, RunsTable, []string{"backfill_id"}, nil)
			},
		},
		migration.Step{
			Name:        BackfillIDColumnData,
			Kind:        migration.MandatoryData,
			Description: "Populate runs.backfill_id from the backfill run tag",
			Up:          backfillIDColumnData,
		},
		migration.Step{
			Name:        AddRunsByBackfillIDIdx,
			Kind:        migration.Structural,
			Description: "Index runs by backfill id",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, RunsTable, nil, []string{idxRunsByBackfillID.Name})
			},
		},
		migration.Step{
			Name:        RunStartEndOverwritten,
			Kind:        migration.OptionalData,
			Isolated:    true,
			Description: "Recompute run start and end times from run events",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return overwriteRunStartEnd(ctx, c, events)
			},
		},
	)
}

// convertRunTimeColumns widens single precision time columns. The stored
// values lost their sub-minute precision, so they are cleared and the
// reindex step that recomputes them is unmarked. Both happen before the
// ALTERs: without transactional DDL a retry may find the columns already
// wide.
func convertRunTimeColumns(ctx context.Context, c *migration.Conn) error {
	var narrow []string
	for _, name := range []string{"start_time", "end_time"} {
		col, ok, err := c.Column(ctx, RunsTable.Name, name)
		if err != nil {
			return err
		}
		if ok && isSinglePrecision(col) {
			narrow = append(narrow, name)
		}
	}
	if len(narrow) == 0 {
		return nil
	}

	if _, err := c.Exec(ctx, `UPDATE "runs" SET "start_time" = NULL, "end_time" = NULL`); err != nil {
		return fmt.Errorf("failed to clear run times: %w", err)
	}
	if err := c.Unmark(ctx, RunStartEndOverwritten); err != nil {
		return err
	}
	for _, name := range narrow {
		if err := c.ExecSteps(ctx, c.Driver().AlterColumnType(RunsTable.Name, column(RunsTable.Name, name))); err != nil {
			return err
		}
	}
	return nil
}

func isSinglePrecision(col database.Column) bool {
	typ := strings.ToLower(col.Type)
	return col.Width == 32 && (typ == "real" || strings.HasPrefix(typ, "float"))
}

func addPrimaryKeys(ctx context.Context, c *migration.Conn) error {
	for _, desc := range []database.Table{KeyValueStoreTable, InstanceInfoTable, DaemonHeartbeatsTable} {
		current, ok, err := c.Table(ctx, desc.Name)
		if err != nil {
			return err
		}
		if !ok {
			if current, ok, err = resumeRebuild(ctx, c, desc.Name); err != nil {
				return err
			}
		}
		if !ok {
			if err := c.CreateTableIfAbsent(ctx, desc); err != nil {
				return err
			}
			continue
		}
		if _, hasID := current.Column("id"); !hasID {
			// Added as a 32-bit key, as older releases did; the bigint
			// migration widens it.
			id := database.Column{Name: "id", Type: "integer"}
			if err := c.ExecSteps(ctx, c.Driver().AddIdentityColumn(current, id)); err != nil {
				return err
			}
		}
		for _, idx := range desc.Indexes {
			if err := c.CreateIndexIfAbsent(ctx, desc.Name, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// resumeRebuild finishes a table rebuild that stopped after the original
// was dropped, by renaming the copy that holds the rows.
func resumeRebuild(ctx context.Context, c *migration.Conn, name string) (database.Table, bool, error) {
	tmp := database.RebuildTableName(name)
	found, err := c.HasTable(ctx, tmp)
	if err != nil || !found {
		return database.Table{}, false, err
	}
	c.Logger().Warn("resuming interrupted table rebuild", zap.String("table", name))
	if _, err := c.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		database.QuoteIdent(tmp), database.QuoteIdent(name))); err != nil {
		return database.Table{}, false, fmt.Errorf("failed to restore %s from %s: %w", name, tmp, err)
	}
	return c.Table(ctx, name)
}

func backfillIDColumnData(ctx context.Context, c *migration.Conn) error {
	_, err := c.Exec(ctx, `UPDATE "runs" SET "backfill_id" = (
  SELECT "run_tags"."value" FROM "run_tags"
  WHERE "run_tags"."run_id" = "runs"."run_id" AND "run_tags"."key" = ?
  LIMIT 1
) WHERE "backfill_id" IS NULL`, BackfillIDTag)
	if err != nil {
		return fmt.Errorf("failed to populate backfill ids: %w", err)
	}
	return nil
}

func overwriteRunStartEnd(ctx context.Context, c *migration.Conn, events RunEventSource) error {
	if events == nil {
		return errors.New("run start and end times need event log storage")
	}

	var cursor int64
	for {
		ids, runIDs, err := nextRunBatch(ctx, c, cursor)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for i, runID := range runIDs {
			start, end, err := events.RunTimes(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to read events of run %s: %w", runID, err)
			}
			if _, err := c.Exec(ctx, `UPDATE "runs" SET "start_time" = ?, "end_time" = ? WHERE "id" = ?`,
				start, end, ids[i]); err != nil {
				return fmt.Errorf("failed to update run %s: %w", runID, err)
			}
		}
		cursor = ids[len(ids)-1]
	}
}

// nextRunBatch reads one batch of runs. Rows are collected before any
// update since some drivers cannot interleave statements with an open
// result set.
func nextRunBatch(ctx context.Context, c *migration.Conn, after int64) ([]int64, []string, error) {
	rows, err := c.Query(ctx, fmt.Sprintf(
		`SELECT "id", "run_id" FROM "runs" WHERE "id" > ? ORDER BY "id" LIMIT %d`, runStartEndBatchSize), after)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	var runIDs []string
	for rows.Next() {
		var id int64
		var runID string
		if err := rows.Scan(&id, &runID); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		runIDs = append(runIDs, runID)
	}
	return ids, runIDs, rows.Err()
}
