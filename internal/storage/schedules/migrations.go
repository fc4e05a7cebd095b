package schedules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// Step names.
const (
	AddSelectorIDColumns = "add_selector_id_columns"
	AddInstigatorsTable  = "add_instigators_table"
	JobsSelectorID       = "schedule_jobs_selector_id"
	TicksSelectorID      = "schedule_ticks_selector_id"
)

const jobsBatchSize = 200

// Migrations returns the ordered steps of schedule storage.
func Migrations() *migration.Registry {
	return migration.NewRegistry(storage.DomainSchedules.String(),
		migration.Step{
			Name:        AddSelectorIDColumns,
			Kind:        migration.Structural,
			Description: "Add jobs.selector_id and job_ticks.selector_id",
			Up: func(ctx context.Context, c *migration.Conn) error {
				if err := c.ExtendTable(ctx, JobsTable, []string{"selector_id"}, []string{idxJobsSelectorID.Name}); err != nil {
					return err
				}
				return c.ExtendTable(ctx, JobTicksTable, []string{"selector_id"}, []string{idxTickSelectorTimestamp.Name})
			},
		},
		migration.Step{
			Name:        AddInstigatorsTable,
			Kind:        migration.Structural,
			Description: "Create the instigators table",
			Up: func(ctx context.Context, c *migration.Conn) error {
				return c.ExtendTable(ctx, InstigatorsTable, nil, []string{idxInstigatorsSelectorID.Name})
			},
		},
		migration.Step{
			Name:        JobsSelectorID,
			Kind:        migration.MandatoryData,
			Description: "Compute jobs.selector_id and copy job state into instigators",
			Up:          jobsSelectorID,
		},
		migration.Step{
			Name:        TicksSelectorID,
			Kind:        migration.OptionalData,
			Description: "Copy selector ids onto job ticks",
			Up: func(ctx context.Context, c *migration.Conn) error {
				if _, err := c.Exec(ctx, `UPDATE "job_ticks" SET "selector_id" = (
  SELECT "jobs"."selector_id" FROM "jobs"
  WHERE "jobs"."job_origin_id" = "job_ticks"."job_origin_id"
  LIMIT 1
) WHERE "selector_id" IS NULL`); err != nil {
					return fmt.Errorf("failed to copy tick selector ids: %w", err)
				}
				return nil
			},
		},
	)
}

type legacyJob struct {
	id      int64
	body    string
	created sql.NullTime
	updated sql.NullTime
}

// jobsSelectorID walks jobs rows without a selector id in id order. A
// row whose body cannot be decoded fails the step.
func jobsSelectorID(ctx context.Context, c *migration.Conn) error {
	insert := c.Driver().InsertIgnore(InstigatorsTable.Name,
		[]string{"selector_id"},
		[]string{"selector_id", "repository_selector_id", "status", "instigator_type", "instigator_body", "create_timestamp", "update_timestamp"})

	var cursor int64
	for {
		jobs, err := nextLegacyJobs(ctx, c, cursor)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			state, err := decodeState(job.body)
			if err != nil {
				return fmt.Errorf("jobs row %d: %w", job.id, err)
			}
			body, err := encodeState(state)
			if err != nil {
				return err
			}
			selectorID := state.SelectorID()
			if _, err := c.Exec(ctx, `UPDATE "jobs" SET "selector_id" = ? WHERE "id" = ?`, selectorID, job.id); err != nil {
				return fmt.Errorf("failed to set selector id of jobs row %d: %w", job.id, err)
			}
			if _, err := c.Exec(ctx, insert, selectorID, state.Origin.RepositorySelectorID(),
				string(state.Status), string(state.Type), body, job.created, job.updated); err != nil {
				return fmt.Errorf("failed to add instigator %s: %w", state.Origin.InstigatorName, err)
			}
		}
		cursor = jobs[len(jobs)-1].id
	}
}

func nextLegacyJobs(ctx context.Context, c *migration.Conn, after int64) ([]legacyJob, error) {
	rows, err := c.Query(ctx, fmt.Sprintf(`SELECT "id", "job_body", "create_timestamp", "update_timestamp" FROM "jobs"
WHERE "selector_id" IS NULL AND "id" > ? ORDER BY "id" LIMIT %d`, jobsBatchSize), after)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []legacyJob
	for rows.Next() {
		var job legacyJob
		var body sql.NullString
		if err := rows.Scan(&job.id, &body, &job.created, &job.updated); err != nil {
			return nil, err
		}
		job.body = body.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
