// Package schedules is schedule storage: the state of schedules and
// sensors and the ticks they evaluate.
package schedules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// TickStatus is the outcome of one evaluation.
type TickStatus string

const (
	TickStarted TickStatus = "STARTED"
	TickSkipped TickStatus = "SKIPPED"
	TickSuccess TickStatus = "SUCCESS"
	TickFailure TickStatus = "FAILURE"
)

// Tick is one evaluation of an instigator.
type Tick struct {
	ID        int64          `json:"-"`
	Origin    Origin         `json:"origin"`
	Type      InstigatorType `json:"instigator_type"`
	Status    TickStatus     `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	RunIDs    []string       `json:"run_ids,omitempty"`
}

// Storage is schedule storage.
type Storage struct {
	*storage.Store
}

// New creates schedule storage.
func New(db *sql.DB, driver database.Driver, opts ...storage.Option) *Storage {
	return &Storage{Store: storage.New(storage.Config{
		Domain:     storage.DomainSchedules,
		DB:         db,
		Driver:     driver,
		Registry:   Migrations(),
		Tables:     Tables(),
		WipeTables: []string{JobTicksTable.Name, JobsTable.Name, InstigatorsTable.Name},
	}, opts...)}
}

// HasBuiltIndex reports whether the named optional backfill has run.
func (s *Storage) HasBuiltIndex(ctx context.Context, name string) (bool, error) {
	return s.Applied(ctx, name)
}

// HasInstigatorsTable reports whether the instigators table exists.
func (s *Storage) HasInstigatorsTable(ctx context.Context) (bool, error) {
	return s.HasTable(ctx, InstigatorsTable.Name)
}

// AddInstigatorState writes the state to jobs and, once it exists, to
// instigators. Writing the same origin again replaces its state.
func (s *Storage) AddInstigatorState(ctx context.Context, state InstigatorState) error {
	body, err := encodeState(state)
	if err != nil {
		return err
	}
	cols, err := s.Columns(ctx, JobsTable.Name)
	if err != nil {
		return err
	}
	hasInstigators, err := s.HasInstigatorsTable(ctx)
	if err != nil {
		return err
	}

	now := s.Now()
	selectorID := state.SelectorID()
	values := map[string]any{
		"job_origin_id":        state.Origin.OriginID(),
		"repository_origin_id": state.Origin.RepositorySelectorID(),
		"status":               string(state.Status),
		"job_type":             string(state.Type),
		"job_body":             body,
		"create_timestamp":     now,
		"update_timestamp":     now,
	}
	if cols["selector_id"] {
		values["selector_id"] = selectorID
	}
	names, args := insertValues(values)

	return s.Tx(ctx, func(c *migration.Conn) error {
		if _, err := c.Exec(ctx, c.Driver().Upsert(JobsTable.Name, []string{"job_origin_id"}, names), args...); err != nil {
			return fmt.Errorf("failed to write job state: %w", err)
		}
		if !hasInstigators {
			return nil
		}
		upsert := c.Driver().Upsert(InstigatorsTable.Name,
			[]string{"selector_id"},
			[]string{"selector_id", "repository_selector_id", "status", "instigator_type", "instigator_body", "create_timestamp", "update_timestamp"})
		if _, err := c.Exec(ctx, upsert, selectorID, state.Origin.RepositorySelectorID(),
			string(state.Status), string(state.Type), body, now, now); err != nil {
			return fmt.Errorf("failed to write instigator state: %w", err)
		}
		return nil
	})
}

// AllInstigatorState returns every stored state. Instigators are read
// once the jobs backfill has populated them; until then jobs is the
// source, in either body format.
func (s *Storage) AllInstigatorState(ctx context.Context) ([]InstigatorState, error) {
	query := `SELECT "job_body" FROM "jobs" ORDER BY "id"`
	migrated, err := s.Applied(ctx, JobsSelectorID)
	if err != nil {
		return nil, err
	}
	if migrated {
		query = `SELECT "instigator_body" FROM "instigators" ORDER BY "id"`
	}

	rows, err := s.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read instigator state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []InstigatorState
	for rows.Next() {
		var body sql.NullString
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		state, err := decodeState(body.String)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// CreateTick stores a tick and returns it with its id.
func (s *Storage) CreateTick(ctx context.Context, tick Tick) (Tick, error) {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = s.Now()
	}
	tick.Timestamp = tick.Timestamp.UTC()
	body, err := json.Marshal(tick)
	if err != nil {
		return Tick{}, fmt.Errorf("failed to serialize tick: %w", err)
	}
	cols, err := s.Columns(ctx, JobTicksTable.Name)
	if err != nil {
		return Tick{}, err
	}

	now := s.Now()
	values := map[string]any{
		"job_origin_id":    tick.Origin.OriginID(),
		"status":           string(tick.Status),
		"type":             string(tick.Type),
		"timestamp":        tick.Timestamp,
		"tick_body":        string(body),
		"create_timestamp": now,
		"update_timestamp": now,
	}
	if cols["selector_id"] {
		values["selector_id"] = tick.Origin.SelectorID()
	}
	names, args := insertValues(values)

	id, err := s.Conn().InsertReturningID(ctx, fmt.Sprintf(`INSERT INTO "job_ticks" (%s) VALUES (%s)`,
		database.QuoteIdents(names), database.Placeholders(len(names))), args...)
	if err != nil {
		return Tick{}, fmt.Errorf("failed to create tick: %w", err)
	}
	tick.ID = id
	return tick, nil
}

// Ticks returns the ticks of an instigator, newest first. Ticks are
// looked up by selector once every tick carries one.
func (s *Storage) Ticks(ctx context.Context, origin Origin) ([]Tick, error) {
	query := `SELECT "id", "tick_body" FROM "job_ticks" WHERE "job_origin_id" = ? ORDER BY "timestamp" DESC, "id" DESC`
	arg := origin.OriginID()
	built, err := s.HasBuiltIndex(ctx, TicksSelectorID)
	if err != nil {
		return nil, err
	}
	if built {
		query = `SELECT "id", "tick_body" FROM "job_ticks" WHERE "selector_id" = ? ORDER BY "timestamp" DESC, "id" DESC`
		arg = origin.SelectorID()
	}

	rows, err := s.Conn().Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ticks []Tick
	for rows.Next() {
		var tick Tick
		var body string
		if err := rows.Scan(&tick.ID, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &tick); err != nil {
			return nil, fmt.Errorf("failed to parse tick %d: %w", tick.ID, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

func insertValues(values map[string]any) ([]string, []any) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = values[name]
	}
	return names, args
}
