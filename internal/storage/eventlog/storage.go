// Package eventlog is event log storage: run events, the asset index
// derived from them, and dynamic partitions.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// EventType classifies an event.
type EventType string

const (
	RunStart             EventType = "RUN_START"
	RunSuccess           EventType = "RUN_SUCCESS"
	RunFailure           EventType = "RUN_FAILURE"
	RunCanceled          EventType = "RUN_CANCELED"
	StepStart            EventType = "STEP_START"
	StepSuccess          EventType = "STEP_SUCCESS"
	AssetMaterialization EventType = "ASSET_MATERIALIZATION"
	AssetObservation     EventType = "ASSET_OBSERVATION"
)

func (t EventType) terminal() bool {
	return t == RunSuccess || t == RunFailure || t == RunCanceled
}

func (t EventType) assetEvent() bool {
	return t == AssetMaterialization || t == AssetObservation
}

// AssetKey is the path naming an asset.
type AssetKey []string

// String returns the stored form of the key, a JSON array.
func (k AssetKey) String() string {
	b, _ := json.Marshal([]string(k))
	return string(b)
}

// Event is one entry of a run's event log.
type Event struct {
	RunID     string            `json:"run_id"`
	Type      EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	StepKey   string            `json:"step_key,omitempty"`
	AssetKey  AssetKey          `json:"asset_key,omitempty"`
	Partition string            `json:"partition,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Storage is event log storage.
type Storage struct {
	*storage.Store
}

// New creates event log storage.
func New(db *sql.DB, driver database.Driver, opts ...storage.Option) *Storage {
	return &Storage{Store: storage.New(storage.Config{
		Domain:   storage.DomainEventLogs,
		DB:       db,
		Driver:   driver,
		Registry: Migrations(),
		Tables:   Tables(),
		WipeTables: []string{
			AssetEventTagsTable.Name,
			EventLogsTable.Name,
			AssetKeysTable.Name,
			DynamicPartitionsTable.Name,
		},
	}, opts...)}
}

// IndexConnection checks out a connection for the asset index tables.
// They live in the same database as the events.
func (s *Storage) IndexConnection(ctx context.Context) (*sql.Conn, error) {
	return s.Connect(ctx)
}

// HasSecondaryIndex reports whether the named optional backfill has run.
func (s *Storage) HasSecondaryIndex(ctx context.Context, name string) (bool, error) {
	return s.Applied(ctx, name)
}

// StoreEvent appends an event and updates the asset index. It returns
// the event's storage id.
func (s *Storage) StoreEvent(ctx context.Context, ev Event) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize event: %w", err)
	}

	indexAsset := len(ev.AssetKey) > 0 && ev.Type.assetEvent()
	var assetCols map[string]bool
	var hasTagsTable bool
	if indexAsset {
		if assetCols, err = s.Columns(ctx, AssetKeysTable.Name); err != nil {
			return 0, err
		}
		if hasTagsTable, err = s.HasTable(ctx, AssetEventTagsTable.Name); err != nil {
			return 0, err
		}
	}

	var id int64
	err = s.Tx(ctx, func(c *migration.Conn) error {
		id, err = c.InsertReturningID(ctx, `INSERT INTO "event_logs"
("run_id", "event", "dagster_event_type", "timestamp", "step_key", "asset_key", "partition")
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.RunID, string(body), string(ev.Type), ev.Timestamp,
			nullString(ev.StepKey), nullAssetKey(ev.AssetKey), nullString(ev.Partition))
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		if !indexAsset {
			return nil
		}
		if err := s.indexAsset(ctx, c, ev, string(body), assetCols); err != nil {
			return err
		}
		if hasTagsTable {
			return insertEventTags(ctx, c, id, ev)
		}
		return nil
	})
	return id, err
}

func (s *Storage) indexAsset(ctx context.Context, c *migration.Conn, ev Event, body string, cols map[string]bool) error {
	insert := c.Driver().InsertIgnore(AssetKeysTable.Name,
		[]string{"asset_key"},
		[]string{"asset_key", "create_timestamp"})
	if _, err := c.Exec(ctx, insert, ev.AssetKey.String(), ev.Timestamp); err != nil {
		return fmt.Errorf("failed to index asset %s: %w", ev.AssetKey, err)
	}
	if ev.Type != AssetMaterialization {
		return nil
	}

	query := `UPDATE "asset_keys" SET "last_materialization" = ?, "last_run_id" = ? WHERE "asset_key" = ?`
	args := []any{body, ev.RunID, ev.AssetKey.String()}
	if cols["last_materialization_timestamp"] {
		query = `UPDATE "asset_keys" SET "last_materialization" = ?, "last_run_id" = ?, "last_materialization_timestamp" = ? WHERE "asset_key" = ?`
		args = []any{body, ev.RunID, ev.Timestamp, ev.AssetKey.String()}
	}
	if _, err := c.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record materialization of %s: %w", ev.AssetKey, err)
	}
	return nil
}

func insertEventTags(ctx context.Context, c *migration.Conn, eventID int64, ev Event) error {
	keys := make([]string, 0, len(ev.Tags))
	for k := range ev.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := c.Exec(ctx, `INSERT INTO "asset_event_tags" ("event_id", "asset_key", "key", "value", "event_timestamp")
VALUES (?, ?, ?, ?, ?)`, eventID, ev.AssetKey.String(), key, ev.Tags[key], ev.Timestamp); err != nil {
			return fmt.Errorf("failed to insert asset event tag %s: %w", key, err)
		}
	}
	return nil
}

// HasAssetKey reports whether any event was stored for the asset. Until
// the asset key backfill has run, events written before the asset index
// existed are consulted too.
func (s *Storage) HasAssetKey(ctx context.Context, key AssetKey) (bool, error) {
	c := s.Conn()
	found, err := exists(ctx, c, `SELECT 1 FROM "asset_keys" WHERE "asset_key" = ?`, key.String())
	if err != nil || found {
		return found, err
	}
	indexed, err := s.HasSecondaryIndex(ctx, AssetKeyIndexCols)
	if err != nil || indexed {
		return false, err
	}
	return exists(ctx, c, `SELECT 1 FROM "event_logs" WHERE "asset_key" = ? LIMIT 1`, key.String())
}

// GetEventTagsForAsset returns the tags of each tagged event of the
// asset, oldest event first.
func (s *Storage) GetEventTagsForAsset(ctx context.Context, key AssetKey) ([]map[string]string, error) {
	if err := s.RequireTable(ctx, AssetEventTagsTable.Name, func() error {
		return storage.RequiresUpgrade("search for asset event tags", AssetEventTagsTable.Name)
	}); err != nil {
		return nil, err
	}

	rows, err := s.Conn().Query(ctx, `SELECT "event_id", "key", "value" FROM "asset_event_tags"
WHERE "asset_key" = ? ORDER BY "event_id", "key"`, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to read asset event tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		result []map[string]string
		last   int64 = -1
	)
	for rows.Next() {
		var eventID int64
		var k string
		var v sql.NullString
		if err := rows.Scan(&eventID, &k, &v); err != nil {
			return nil, err
		}
		if eventID != last {
			result = append(result, map[string]string{})
			last = eventID
		}
		result[len(result)-1][k] = v.String
	}
	return result, rows.Err()
}

// AddDynamicPartitions adds partition keys to a dynamic partitions
// definition. Keys already present are kept once.
func (s *Storage) AddDynamicPartitions(ctx context.Context, definition string, keys []string) error {
	if err := s.requireDynamicPartitions(ctx); err != nil {
		return err
	}
	insert := s.Driver().InsertIgnore(DynamicPartitionsTable.Name,
		[]string{"partitions_def_name", "partition"},
		[]string{"partitions_def_name", "partition", "create_timestamp"})
	return s.Tx(ctx, func(c *migration.Conn) error {
		now := s.Now()
		for _, key := range keys {
			if _, err := c.Exec(ctx, insert, definition, key, now); err != nil {
				return fmt.Errorf("failed to add partition %s: %w", key, err)
			}
		}
		return nil
	})
}

// GetDynamicPartitions returns the keys of a dynamic partitions
// definition in insertion order.
func (s *Storage) GetDynamicPartitions(ctx context.Context, definition string) ([]string, error) {
	if err := s.requireDynamicPartitions(ctx); err != nil {
		return nil, err
	}
	rows, err := s.Conn().Query(ctx, `SELECT "partition" FROM "dynamic_partitions"
WHERE "partitions_def_name" = ? ORDER BY "id"`, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to read dynamic partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Storage) requireDynamicPartitions(ctx context.Context) error {
	return s.RequireTable(ctx, DynamicPartitionsTable.Name, func() error {
		return storage.MissingTable(DynamicPartitionsTable.Name)
	})
}

// RunTimes returns the epoch seconds of the run's first start event and
// last terminal event.
func (s *Storage) RunTimes(ctx context.Context, runID string) (start, end *float64, err error) {
	rows, err := s.Conn().Query(ctx, `SELECT "dagster_event_type", "timestamp" FROM "event_logs"
WHERE "run_id" = ? AND "dagster_event_type" IN (?, ?, ?, ?) ORDER BY "id"`,
		runID, string(RunStart), string(RunSuccess), string(RunFailure), string(RunCanceled))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var typ string
		var ts sql.NullTime
		if err := rows.Scan(&typ, &ts); err != nil {
			return nil, nil, err
		}
		if !ts.Valid {
			continue
		}
		epoch := float64(ts.Time.UnixNano()) / 1e9
		switch {
		case EventType(typ) == RunStart && start == nil:
			start = &epoch
		case EventType(typ).terminal():
			end = &epoch
		}
	}
	return start, end, rows.Err()
}

func exists(ctx context.Context, c *migration.Conn, query string, args ...any) (bool, error) {
	var one int
	err := c.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullAssetKey(k AssetKey) sql.NullString {
	if len(k) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: k.String(), Valid: true}
}
