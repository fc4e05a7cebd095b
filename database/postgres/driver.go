package postgres

import (
	"context"
	"database/sql"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/metamigrate/database"
)

// Driver implements database.Driver for PostgreSQL
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new PostgreSQL driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "postgres"
}

// Dialect returns database.DialectPostgres
func (d *Driver) Dialect() database.Dialect {
	return database.DialectPostgres
}

// SupportsFeature checks if PostgreSQL supports a specific feature
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureTransactionalDDL:
		return true
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

// Lock takes a session-level advisory lock on conn. The lock survives
// transaction boundaries and is released explicitly or when the session
// ends.
func (d *Driver) Lock(ctx context.Context, conn *sql.Conn, key string) (func() error, error) {
	lockID := database.HashLockKey(key)

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	return func() error {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
			return fmt.Errorf("pg_advisory_unlock(%d): %w", lockID, err)
		}
		return nil
	}, nil
}

// ValidateStatement parses sql with the PostgreSQL parser
func (d *Driver) ValidateStatement(sql string) error {
	if _, err := pg_query.Parse(sql); err != nil {
		return fmt.Errorf("invalid PostgreSQL statement: %w", err)
	}
	return nil
}

// Ensure Driver implements database.Driver
var _ database.Driver = (*Driver)(nil)

// Ensure Driver implements database.StatementValidator
var _ database.StatementValidator = (*Driver)(nil)

// Ensure Introspector implements database.Introspector
var _ database.Introspector = (*Introspector)(nil)

// Ensure Generator implements database.SQLGenerator
var _ database.SQLGenerator = (*Generator)(nil)
