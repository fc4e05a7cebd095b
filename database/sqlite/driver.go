package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/lockplane/metamigrate/database"
)

// Driver implements database.Driver for SQLite
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// Dialect returns database.DialectSQLite
func (d *Driver) Dialect() database.Dialect {
	return database.DialectSQLite
}

// SupportsFeature checks if SQLite supports a specific feature
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureTransactionalDDL:
		return true
	case database.FeatureAlterColumnType:
		return false // Would require table recreation
	case database.FeatureNarrowIntegers:
		return false // Every INTEGER is 64-bit
	case database.FeatureAdvisoryLocks:
		return false // Process-local only
	default:
		return false
	}
}

var (
	locksMu sync.Mutex
	locks   = map[string]chan struct{}{}
)

// Lock takes a process-local lock on key. SQLite has no advisory locks;
// writers in other processes are serialized by the database file lock.
func (d *Driver) Lock(ctx context.Context, _ *sql.Conn, key string) (func() error, error) {
	locksMu.Lock()
	sem, ok := locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		locks[key] = sem
	}
	locksMu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() { <-sem })
		return nil
	}, nil
}

// Ensure Driver implements database.Driver
var _ database.Driver = (*Driver)(nil)

// Ensure Introspector implements database.Introspector
var _ database.Introspector = (*Introspector)(nil)

// Ensure Generator implements database.SQLGenerator
var _ database.SQLGenerator = (*Generator)(nil)
