package migration

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/locks"
	"github.com/lockplane/metamigrate/internal/logging"
)

// Conn is the handle a step runs against: a *sql.Conn, or a *sql.Tx
// opened on it, plus the driver for the engine behind it.
//
// Queries are written with ? placeholders and rebound for the engine.
// Probes read the live catalog through the same handle, so a step sees
// its own uncommitted DDL.
type Conn struct {
	q      database.Querier
	driver database.Driver
	domain string
	logger *zap.Logger
}

// NewConn wraps q. A nil logger discards output.
func NewConn(q database.Querier, driver database.Driver, domain string, logger *zap.Logger) *Conn {
	return &Conn{
		q:      q,
		driver: driver,
		domain: domain,
		logger: logging.OrNop(logger),
	}
}

// Driver returns the engine driver.
func (c *Conn) Driver() database.Driver {
	return c.driver
}

// Dialect returns the engine dialect.
func (c *Conn) Dialect() database.Dialect {
	return c.driver.Dialect()
}

// Domain returns the storage domain this connection migrates.
func (c *Conn) Domain() string {
	return c.domain
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *zap.Logger {
	return c.logger
}

// Querier exposes the underlying handle.
func (c *Conn) Querier() database.Querier {
	return c.q
}

// Exec rebinds, validates and runs a statement.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.exec(ctx, database.PlanStep{SQL: query}, args...)
}

// exec logs the statement with the table lock it takes: at warn when it
// blocks reads, at info when it blocks writes, else at debug.
func (c *Conn) exec(ctx context.Context, step database.PlanStep, args ...any) (sql.Result, error) {
	query := database.Rebind(c.Dialect(), step.SQL)
	if v, ok := c.driver.(database.StatementValidator); ok {
		if err := v.ValidateStatement(query); err != nil {
			return nil, err
		}
	}

	impact := locks.AnalyzeStatement(database.PlanStep{Description: step.Description, SQL: query})
	fields := []zap.Field{
		zap.String("domain", c.domain),
		zap.String("lock", impact.LockMode.String()),
		zap.String("impact", impact.Impact.String()),
		zap.String("explanation", impact.Explanation),
		zap.String("sql", query),
	}
	if impact.Operation != "" {
		fields = append(fields, zap.String("operation", impact.Operation))
	}
	switch {
	case impact.BlocksReads:
		c.logger.Warn("statement blocks reads on its table", fields...)
	case impact.BlocksWrites:
		c.logger.Info("statement blocks writes on its table", fields...)
	default:
		c.logger.Debug("exec", fields...)
	}

	return c.q.ExecContext(ctx, query, args...)
}

// Query rebinds and runs a query.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, database.Rebind(c.Dialect(), query), args...)
}

// QueryRow rebinds and runs a single-row query.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, database.Rebind(c.Dialect(), query), args...)
}

// ExecSteps runs generated statements in order, stopping at the first
// failure.
func (c *Conn) ExecSteps(ctx context.Context, steps []database.PlanStep) error {
	for _, step := range steps {
		if _, err := c.exec(ctx, step); err != nil {
			return fmt.Errorf("%s: %w", step.Description, err)
		}
	}
	return nil
}

// HasTable reports whether the table exists.
func (c *Conn) HasTable(ctx context.Context, table string) (bool, error) {
	tables, err := c.driver.GetTables(ctx, c.q)
	if err != nil {
		return false, err
	}
	return slices.Contains(tables, table), nil
}

// Column returns the introspected column, if the table has it.
func (c *Conn) Column(ctx context.Context, table, column string) (database.Column, bool, error) {
	columns, err := c.driver.GetColumns(ctx, c.q, table)
	if err != nil {
		return database.Column{}, false, err
	}
	for _, col := range columns {
		if col.Name == column {
			return col, true, nil
		}
	}
	return database.Column{}, false, nil
}

// HasColumn reports whether the table exists and has the column.
func (c *Conn) HasColumn(ctx context.Context, table, column string) (bool, error) {
	_, ok, err := c.Column(ctx, table, column)
	return ok, err
}

// HasIndex reports whether the table has a secondary index with this name.
func (c *Conn) HasIndex(ctx context.Context, table, index string) (bool, error) {
	indexes, err := c.driver.GetIndexes(ctx, c.q, table)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if idx.Name == index {
			return true, nil
		}
	}
	return false, nil
}

// Table introspects one table. ok is false when it does not exist.
func (c *Conn) Table(ctx context.Context, name string) (table database.Table, ok bool, err error) {
	exists, err := c.HasTable(ctx, name)
	if err != nil || !exists {
		return database.Table{}, false, err
	}
	columns, err := c.driver.GetColumns(ctx, c.q, name)
	if err != nil {
		return database.Table{}, false, err
	}
	indexes, err := c.driver.GetIndexes(ctx, c.q, name)
	if err != nil {
		return database.Table{}, false, err
	}
	return database.Table{Name: name, Columns: columns, Indexes: indexes}, true, nil
}

// CreateTableIfAbsent creates the table and then any of its indexes that
// are missing. Existing tables are not altered.
func (c *Conn) CreateTableIfAbsent(ctx context.Context, table database.Table) error {
	exists, err := c.HasTable(ctx, table.Name)
	if err != nil {
		return err
	}
	if !exists {
		sql, desc := c.driver.CreateTable(table)
		if _, err := c.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
	}
	for _, idx := range table.Indexes {
		if err := c.CreateIndexIfAbsent(ctx, table.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

// AddColumnIfAbsent adds the column unless the table already has it.
func (c *Conn) AddColumnIfAbsent(ctx context.Context, table string, col database.Column) error {
	exists, err := c.HasColumn(ctx, table, col.Name)
	if err != nil || exists {
		return err
	}
	sql, desc := c.driver.AddColumn(table, col)
	if _, err := c.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	return nil
}

// CreateIndexIfAbsent creates the index unless one with the same name
// exists on the table.
func (c *Conn) CreateIndexIfAbsent(ctx context.Context, table string, idx database.Index) error {
	exists, err := c.HasIndex(ctx, table, idx.Name)
	if err != nil || exists {
		return err
	}
	sql, desc := c.driver.AddIndex(table, idx)
	if _, err := c.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	return nil
}

// InsertReturningID runs an INSERT into a table with an autoincrementing
// "id" column and returns the new id.
func (c *Conn) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if c.Dialect() == database.DialectMySQL {
		res, err := c.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	query = database.Rebind(c.Dialect(), query+` RETURNING "id"`)
	if v, ok := c.driver.(database.StatementValidator); ok {
		if err := v.ValidateStatement(query); err != nil {
			return 0, err
		}
	}
	var id int64
	if err := c.q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ExtendTable brings the named columns and indexes of table into the
// database. A missing table is created at the full descriptor shape.
func (c *Conn) ExtendTable(ctx context.Context, table database.Table, columns, indexes []string) error {
	exists, err := c.HasTable(ctx, table.Name)
	if err != nil {
		return err
	}
	if !exists {
		return c.CreateTableIfAbsent(ctx, table)
	}

	for _, name := range columns {
		col, ok := table.Column(name)
		if !ok {
			return fmt.Errorf("table %s has no column %s", table.Name, name)
		}
		if err := c.AddColumnIfAbsent(ctx, table.Name, col); err != nil {
			return err
		}
	}
	for _, name := range indexes {
		i := slices.IndexFunc(table.Indexes, func(idx database.Index) bool { return idx.Name == name })
		if i < 0 {
			return fmt.Errorf("table %s has no index %s", table.Name, name)
		}
		if err := c.CreateIndexIfAbsent(ctx, table.Name, table.Indexes[i]); err != nil {
			return err
		}
	}
	return nil
}
