package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/metamigrate/database"
)

// Driver implements database.Driver for MySQL
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new MySQL driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "mysql"
}

// Dialect returns database.DialectMySQL
func (d *Driver) Dialect() database.Dialect {
	return database.DialectMySQL
}

// SupportsFeature checks if MySQL supports a specific feature
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureTransactionalDDL:
		return false // DDL commits implicitly
	case database.FeatureAlterColumnType:
		return true
	case database.FeatureNarrowIntegers:
		return true
	case database.FeatureAdvisoryLocks:
		return true
	default:
		return false
	}
}

// Lock takes a named lock with GET_LOCK, waiting without timeout. Named
// locks belong to the session, so release must run on the same conn.
func (d *Driver) Lock(ctx context.Context, conn *sql.Conn, key string) (func() error, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, -1)`, key).Scan(&got); err != nil {
		return nil, fmt.Errorf("GET_LOCK(%s): %w", key, err)
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("GET_LOCK(%s): lock not acquired", key)
	}

	return func() error {
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.Background(), `SELECT RELEASE_LOCK(?)`, key).Scan(&released); err != nil {
			return fmt.Errorf("RELEASE_LOCK(%s): %w", key, err)
		}
		return nil
	}, nil
}

// Ensure Driver implements database.Driver
var _ database.Driver = (*Driver)(nil)

// Ensure Introspector implements database.Introspector
var _ database.Introspector = (*Introspector)(nil)

// Ensure Generator implements database.SQLGenerator
var _ database.SQLGenerator = (*Generator)(nil)
