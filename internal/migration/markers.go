package migration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lockplane/metamigrate/database"
)

// MarkerTable records applied steps. It is shared by every domain that
// lives in the same database; rows are keyed by (domain, name).
const MarkerTable = "migration_markers"

// MarkerTableDescriptor is the current shape of MarkerTable.
var MarkerTableDescriptor = database.Table{
	Name: MarkerTable,
	Columns: []database.Column{
		{Name: "id", Type: "bigint", IsPrimaryKey: true, AutoIncrement: true},
		{Name: "domain", Type: "varchar(63)"},
		{Name: "name", Type: "varchar(255)"},
		{Name: "kind", Type: "varchar(31)"},
		{Name: "applied_at", Type: "double"},
	},
	Indexes: []database.Index{
		{Name: "idx_migration_markers_domain_name", Columns: []string{"domain", "name"}, Unique: true},
	},
}

// EnsureMarkers creates the marker table if needed.
func (c *Conn) EnsureMarkers(ctx context.Context) error {
	return c.CreateTableIfAbsent(ctx, MarkerTableDescriptor)
}

// AppliedMarkers returns the applied steps of this domain and when each
// was applied. A missing marker table reads as no markers.
func (c *Conn) AppliedMarkers(ctx context.Context) (map[string]time.Time, error) {
	applied := map[string]time.Time{}

	exists, err := c.HasTable(ctx, MarkerTable)
	if err != nil || !exists {
		return applied, err
	}

	rows, err := c.Query(ctx, `SELECT "name", "applied_at" FROM "migration_markers" WHERE "domain" = ?`, c.domain)
	if err != nil {
		return nil, fmt.Errorf("failed to read markers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		var at float64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", err)
		}
		applied[name] = fromEpoch(at)
	}
	return applied, rows.Err()
}

// Mark records name as applied at the given time. Marking an applied
// step again keeps the first timestamp.
func (c *Conn) Mark(ctx context.Context, name string, kind Kind, at time.Time) error {
	insert := c.driver.InsertIgnore(MarkerTable,
		[]string{"domain", "name"},
		[]string{"domain", "name", "kind", "applied_at"})
	if _, err := c.Exec(ctx, insert, c.domain, name, kind.String(), toEpoch(at)); err != nil {
		return fmt.Errorf("failed to mark %s/%s applied: %w", c.domain, name, err)
	}
	return nil
}

// Unmark removes the marker for name so the step runs again.
func (c *Conn) Unmark(ctx context.Context, name string) error {
	exists, err := c.HasTable(ctx, MarkerTable)
	if err != nil || !exists {
		return err
	}
	if _, err := c.Exec(ctx, `DELETE FROM "migration_markers" WHERE "domain" = ? AND "name" = ?`, c.domain, name); err != nil {
		return fmt.Errorf("failed to unmark %s/%s: %w", c.domain, name, err)
	}
	return nil
}

// ClearMarkers removes every marker of this domain.
func (c *Conn) ClearMarkers(ctx context.Context) error {
	exists, err := c.HasTable(ctx, MarkerTable)
	if err != nil || !exists {
		return err
	}
	if _, err := c.Exec(ctx, `DELETE FROM "migration_markers" WHERE "domain" = ?`, c.domain); err != nil {
		return fmt.Errorf("failed to clear markers for %s: %w", c.domain, err)
	}
	return nil
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromEpoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
