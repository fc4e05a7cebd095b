package database

import (
	"context"
	"database/sql"
)

// Dialect identifies a supported SQL engine.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Schema represents a database schema
type Schema struct {
	Dialect Dialect `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Table represents a database table
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Indexes []Index  `json:"indexes"`
}

// Column returns the named column, if the table has one.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Column represents a table column.
//
// Type is either a logical type from a table descriptor (bigint, integer,
// varchar(255), text, long_text, double, float, timestamp, boolean) or the
// physical type reported by an introspector. Width is the bit width of
// numeric columns and zero otherwise; it is only filled by introspection.
type Column struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Nullable      bool    `json:"nullable"`
	Default       *string `json:"default,omitempty"`
	IsPrimaryKey  bool    `json:"is_primary_key"`
	AutoIncrement bool    `json:"auto_increment"`
	Width         int     `json:"width,omitempty"`
}

// Index represents a table index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// PlanStep represents a single SQL statement in a migration step
type PlanStep struct {
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used by
// introspection and migration code.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// Introspector reads live catalog state. Results are never cached.
type Introspector interface {
	// IntrospectSchema reads the entire database schema
	IntrospectSchema(ctx context.Context, q Querier) (*Schema, error)

	// GetTables returns all table names in the database
	GetTables(ctx context.Context, q Querier) ([]string, error)

	// GetColumns returns all columns for a given table
	GetColumns(ctx context.Context, q Querier, tableName string) ([]Column, error)

	// GetIndexes returns all secondary indexes for a given table
	GetIndexes(ctx context.Context, q Querier, tableName string) ([]Index, error)
}

// SQLGenerator defines the interface for generating database-specific SQL.
// Generated statements use ? placeholders; see Rebind.
type SQLGenerator interface {
	// CreateTable generates SQL to create a table if it does not exist
	CreateTable(table Table) (sql string, description string)

	// AddColumn generates SQL to add a column to a table
	AddColumn(tableName string, col Column) (sql string, description string)

	// AddIndex generates SQL to add an index
	AddIndex(tableName string, idx Index) (sql string, description string)

	// DropIndex generates SQL to drop an index
	DropIndex(tableName string, idx Index) (sql string, description string)

	// AlterColumnType changes the physical type of an existing column.
	// Returns no steps when the engine stores both types identically.
	AlterColumnType(tableName string, col Column) []PlanStep

	// AddIdentityColumn adds an autoincrementing integer primary key named
	// col.Name to an existing table, numbering the existing rows. The table
	// argument is the introspected current shape. Returns multiple steps
	// where the engine needs the table rebuilt.
	AddIdentityColumn(table Table, col Column) []PlanStep

	// WidenIdentifier converts a 32-bit autoincrementing identifier to 64
	// bits in place, keeping its values and its sequence.
	WidenIdentifier(tableName string, col Column) []PlanStep

	// Upsert returns an INSERT that updates the non-key columns on a key
	// conflict.
	Upsert(tableName string, keyColumns, columns []string) string

	// InsertIgnore returns an INSERT that does nothing on a key conflict.
	InsertIgnore(tableName string, keyColumns, columns []string) string

	// FormatColumnDefinition formats a column definition for CREATE TABLE
	FormatColumnDefinition(col Column) string

	// ParameterPlaceholder returns the parameter placeholder for this database
	// PostgreSQL: $1, $2, etc.
	// SQLite and MySQL: ?
	ParameterPlaceholder(position int) string
}

// Locker serializes migration runs across processes. The lock is bound to
// conn and must be released on the same connection.
type Locker interface {
	Lock(ctx context.Context, conn *sql.Conn, key string) (release func() error, err error)
}

// StatementValidator is implemented by drivers that can check a statement
// before it is sent to the server.
type StatementValidator interface {
	ValidateStatement(sql string) error
}

// Feature names understood by Driver.SupportsFeature.
const (
	FeatureTransactionalDDL = "TRANSACTIONAL_DDL"
	FeatureAlterColumnType  = "ALTER_COLUMN_TYPE"
	FeatureNarrowIntegers   = "NARROW_INTEGERS"
	FeatureAdvisoryLocks    = "ADVISORY_LOCKS"
)

// Driver represents a database driver with introspection, SQL generation
// and locking
type Driver interface {
	Introspector
	SQLGenerator
	Locker

	// Name returns the database driver name (e.g., "postgres", "sqlite")
	Name() string

	// Dialect returns the engine the driver targets
	Dialect() Dialect

	// SupportsFeature checks if the database supports a specific feature
	SupportsFeature(feature string) bool
}
