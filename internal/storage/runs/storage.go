// Package runs is run storage: runs and their tags, backfills, daemon
// heartbeats, daemon cursors and the instance id.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// Well-known run tags.
const (
	BackfillIDTag   = "dagster/backfill"
	PartitionTag    = "dagster/partition"
	PartitionSetTag = "dagster/partition_set"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusQueued     RunStatus = "QUEUED"
	StatusNotStarted RunStatus = "NOT_STARTED"
	StatusStarting   RunStatus = "STARTING"
	StatusStarted    RunStatus = "STARTED"
	StatusSuccess    RunStatus = "SUCCESS"
	StatusFailure    RunStatus = "FAILURE"
	StatusCanceling  RunStatus = "CANCELING"
	StatusCanceled   RunStatus = "CANCELED"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCanceled
}

// Run is the serialized body of a run.
type Run struct {
	RunID      string            `json:"run_id"`
	JobName    string            `json:"job_name"`
	Status     RunStatus         `json:"status"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// RunRecord is a stored run with the columns derived from it.
type RunRecord struct {
	ID              int64
	Run             Run
	CreateTimestamp time.Time
	UpdateTimestamp time.Time
	StartTime       *float64
	EndTime         *float64
	BackfillID      *string
}

// DaemonHeartbeat is the latest liveness report of a daemon.
type DaemonHeartbeat struct {
	Timestamp  time.Time `json:"timestamp"`
	DaemonType string    `json:"daemon_type"`
	DaemonID   string    `json:"daemon_id"`
	Errors     []string  `json:"errors,omitempty"`
}

// Backfill is a bulk action launching many runs.
type Backfill struct {
	BackfillID string    `json:"backfill_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"backfill_timestamp"`
	SelectorID string    `json:"selector_id,omitempty"`
	ActionType string    `json:"action_type,omitempty"`
}

// Storage is run storage.
type Storage struct {
	*storage.Store
}

// New creates run storage. events feeds the run start/end reindex step
// and may be nil when that step is never run.
func New(db *sql.DB, driver database.Driver, events RunEventSource, opts ...storage.Option) *Storage {
	return &Storage{Store: storage.New(storage.Config{
		Domain:     storage.DomainRuns,
		DB:         db,
		Driver:     driver,
		Registry:   Migrations(events),
		Tables:     Tables(),
		WipeTables: []string{RunTagsTable.Name, RunsTable.Name, BulkActionsTable.Name, DaemonHeartbeatsTable.Name},
	}, opts...)}
}

// Init creates the tables of a fresh database and makes sure the
// instance has a storage id.
func (s *Storage) Init(ctx context.Context) (bool, error) {
	created, err := s.Store.Init(ctx)
	if err != nil {
		return false, err
	}
	if _, err := s.StorageID(ctx); err != nil && !errors.Is(err, storage.ErrInvalidInvocation) {
		return created, err
	}
	return created, nil
}

// StorageID returns the instance's run storage id, assigning one on
// first use.
func (s *Storage) StorageID(ctx context.Context) (string, error) {
	c := s.Conn()
	if err := s.RequireTable(ctx, InstanceInfoTable.Name, func() error {
		return storage.MissingTable(InstanceInfoTable.Name)
	}); err != nil {
		return "", err
	}
	read := func() (string, error) {
		var id sql.NullString
		err := c.QueryRow(ctx, `SELECT "run_storage_id" FROM "instance_info" ORDER BY "run_storage_id" LIMIT 1`).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return id.String, err
	}

	id, err := read()
	if err != nil || id != "" {
		return id, err
	}
	id = uuid.NewString()
	if _, err := c.Exec(ctx, `INSERT INTO "instance_info" ("run_storage_id") VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("failed to write instance info: %w", err)
	}
	return id, nil
}

// AddRun stores a new run and its tags. A run without an id gets a new
// one. backfill_id is written from the backfill tag once the column
// exists; older databases get it from the backfill_id_column_data step.
func (s *Storage) AddRun(ctx context.Context, run Run) (Run, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusNotStarted
	}
	body, err := json.Marshal(run)
	if err != nil {
		return Run{}, fmt.Errorf("failed to serialize run: %w", err)
	}
	cols, err := s.Columns(ctx, RunsTable.Name)
	if err != nil {
		return Run{}, err
	}

	now := s.Now()
	values := map[string]any{
		"run_id":           run.RunID,
		"snapshot_id":      nullString(run.SnapshotID),
		"pipeline_name":    run.JobName,
		"status":           string(run.Status),
		"run_body":         string(body),
		"partition":        nullString(run.Tags[PartitionTag]),
		"partition_set":    nullString(run.Tags[PartitionSetTag]),
		"create_timestamp": now,
		"update_timestamp": now,
	}
	if cols["backfill_id"] {
		values["backfill_id"] = nullString(run.Tags[BackfillIDTag])
	}

	err = s.Tx(ctx, func(c *migration.Conn) error {
		names, args := insertValues(values)
		if _, err := c.Exec(ctx, fmt.Sprintf(`INSERT INTO "runs" (%s) VALUES (%s)`,
			database.QuoteIdents(names), database.Placeholders(len(names))), args...); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
		}
		for _, key := range sortedKeys(run.Tags) {
			if _, err := c.Exec(ctx, `INSERT INTO "run_tags" ("run_id", "key", "value") VALUES (?, ?, ?)`,
				run.RunID, key, run.Tags[key]); err != nil {
				return fmt.Errorf("failed to insert run tag %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun returns the stored run. Columns missing from older databases
// read as nil.
func (s *Storage) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	cols, err := s.Columns(ctx, RunsTable.Name)
	if err != nil {
		return nil, err
	}
	selected := []string{"id", "run_body", "create_timestamp", "update_timestamp"}
	for _, optional := range []string{"start_time", "end_time", "backfill_id"} {
		if cols[optional] {
			selected = append(selected, optional)
		}
	}

	var (
		record             RunRecord
		body               string
		created, updated   sql.NullTime
		start, end         sql.NullFloat64
		backfillID         sql.NullString
		optionalScanTarget = map[string]any{"start_time": &start, "end_time": &end, "backfill_id": &backfillID}
	)
	dest := []any{&record.ID, &body, &created, &updated}
	for _, name := range selected[4:] {
		dest = append(dest, optionalScanTarget[name])
	}

	err = s.Conn().QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM "runs" WHERE "run_id" = ?`, database.QuoteIdents(selected)), runID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(body), &record.Run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}

	record.CreateTimestamp = created.Time
	record.UpdateTimestamp = updated.Time
	if start.Valid {
		record.StartTime = &start.Float64
	}
	if end.Valid {
		record.EndTime = &end.Float64
	}
	if backfillID.Valid {
		record.BackfillID = &backfillID.String
	}
	return &record, nil
}

// UpdateRunStatus moves a run to status. Entering STARTED records the
// start time and entering a terminal status records the end time.
func (s *Storage) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, at time.Time) error {
	record, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	cols, err := s.Columns(ctx, RunsTable.Name)
	if err != nil {
		return err
	}

	record.Run.Status = status
	body, err := json.Marshal(record.Run)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	sets := []string{`"status" = ?`, `"run_body" = ?`, `"update_timestamp" = ?`}
	args := []any{string(status), string(body), s.Now()}
	epoch := float64(at.UnixNano()) / 1e9
	if status == StatusStarted && cols["start_time"] {
		sets = append(sets, `"start_time" = ?`)
		args = append(args, epoch)
	}
	if status.Terminal() && cols["end_time"] {
		sets = append(sets, `"end_time" = ?`)
		args = append(args, epoch)
	}
	args = append(args, runID)

	if _, err := s.Conn().Exec(ctx, fmt.Sprintf(`UPDATE "runs" SET %s WHERE "run_id" = ?`, strings.Join(sets, ", ")), args...); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// RunIDsInBackfill lists the runs launched by a backfill, oldest first.
// Before backfill ids are populated it falls back to the run tags.
func (s *Storage) RunIDsInBackfill(ctx context.Context, backfillID string) ([]string, error) {
	populated, err := s.Applied(ctx, BackfillIDColumnData)
	if err != nil {
		return nil, err
	}
	query := `SELECT "run_id" FROM "runs" WHERE "backfill_id" = ? ORDER BY "id"`
	args := []any{backfillID}
	if !populated {
		query = `SELECT "runs"."run_id" FROM "runs" JOIN "run_tags" ON "run_tags"."run_id" = "runs"."run_id"
WHERE "run_tags"."key" = ? AND "run_tags"."value" = ? ORDER BY "runs"."id"`
		args = []any{BackfillIDTag, backfillID}
	}

	rows, err := s.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read backfill runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetCursorValues upserts daemon cursors.
func (s *Storage) SetCursorValues(ctx context.Context, values map[string]string) error {
	if err := s.RequireTable(ctx, KeyValueStoreTable.Name, func() error {
		return storage.RequiresUpgrade("store cursor values", KeyValueStoreTable.Name)
	}); err != nil {
		return err
	}

	upsert := s.Driver().Upsert(KeyValueStoreTable.Name, []string{"key"}, []string{"key", "value"})
	return s.Tx(ctx, func(c *migration.Conn) error {
		for _, key := range sortedKeys(values) {
			if _, err := c.Exec(ctx, upsert, key, values[key]); err != nil {
				return fmt.Errorf("failed to set cursor %s: %w", key, err)
			}
		}
		return nil
	})
}

// GetCursorValues returns the stored values of the given keys. Unknown
// keys are absent from the result.
func (s *Storage) GetCursorValues(ctx context.Context, keys []string) (map[string]string, error) {
	values := map[string]string{}
	if len(keys) == 0 {
		return values, nil
	}
	if err := s.RequireTable(ctx, KeyValueStoreTable.Name, func() error {
		return storage.RequiresUpgrade("read cursor values", KeyValueStoreTable.Name)
	}); err != nil {
		return nil, err
	}

	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	rows, err := s.Conn().Query(ctx, fmt.Sprintf(`SELECT "key", "value" FROM "kvs" WHERE "key" IN (%s)`, database.Placeholders(len(keys))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value.String
	}
	return values, rows.Err()
}

// AddDaemonHeartbeat replaces the heartbeat of the daemon's type.
func (s *Storage) AddDaemonHeartbeat(ctx context.Context, hb DaemonHeartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to serialize heartbeat: %w", err)
	}
	upsert := s.Driver().Upsert(DaemonHeartbeatsTable.Name,
		[]string{"daemon_type"},
		[]string{"daemon_type", "daemon_id", "timestamp", "body"})
	if _, err := s.Conn().Exec(ctx, upsert, hb.DaemonType, hb.DaemonID, hb.Timestamp.UTC(), string(body)); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	return nil
}

// AddBackfill stores a backfill.
func (s *Storage) AddBackfill(ctx context.Context, b Backfill) error {
	if b.BackfillID == "" {
		b.BackfillID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to serialize backfill: %w", err)
	}
	cols, err := s.Columns(ctx, BulkActionsTable.Name)
	if err != nil {
		return err
	}

	values := map[string]any{
		"key":       b.BackfillID,
		"status":    b.Status,
		"timestamp": b.Timestamp.UTC(),
		"body":      string(body),
	}
	if cols["selector_id"] {
		values["selector_id"] = nullString(b.SelectorID)
	}
	if cols["action_type"] {
		values["action_type"] = nullString(b.ActionType)
	}

	names, args := insertValues(values)
	if _, err := s.Conn().Exec(ctx, fmt.Sprintf(`INSERT INTO "bulk_actions" (%s) VALUES (%s)`,
		database.QuoteIdents(names), database.Placeholders(len(names))), args...); err != nil {
		return fmt.Errorf("failed to insert backfill %s: %w", b.BackfillID, err)
	}
	return nil
}

func insertValues(values map[string]any) ([]string, []any) {
	names := sortedKeys(values)
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = values[name]
	}
	return names, args
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
