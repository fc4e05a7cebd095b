// Package snapshot restores databases as older releases wrote them, so
// that upgrades can be exercised from a known starting shape.
package snapshot

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

//go:embed sqlite/*.sql
var fixtures embed.FS

// Snapshot names.
const (
	RunsLegacy      = "runs_legacy"
	EventLogsLegacy = "event_logs_legacy"
	SchedulesLegacy = "schedules_legacy"
)

// Names lists the embedded snapshots.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(fixtures, "sqlite")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".sql"); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Load returns the script of a snapshot.
func Load(name string) (string, error) {
	b, err := fixtures.ReadFile(path.Join("sqlite", name+".sql"))
	if err != nil {
		return "", fmt.Errorf("unknown snapshot %q", name)
	}
	return string(b), nil
}

// Restore runs a snapshot's statements in order against q and returns
// how many ran. Snapshots are SQLite scripts; q should be empty.
func Restore(ctx context.Context, q database.Querier, name string) (int, error) {
	script, err := Load(name)
	if err != nil {
		return 0, err
	}
	return Apply(ctx, q, script)
}

// Apply runs every statement of script, stopping at the first failure.
func Apply(ctx context.Context, q database.Querier, script string) (int, error) {
	statements := splitStatements(script)
	for i, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt.sql); err != nil {
			return i, fmt.Errorf("statement at line %d: %w", stmt.line, err)
		}
	}
	return len(statements), nil
}
