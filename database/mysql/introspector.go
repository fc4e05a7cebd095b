package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// Introspector implements database.Introspector for MySQL using
// information_schema scoped to the connection's default database.
type Introspector struct{}

// NewIntrospector creates a new MySQL introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// IntrospectSchema reads the entire MySQL database schema
func (i *Introspector) IntrospectSchema(ctx context.Context, q database.Querier) (*database.Schema, error) {
	schema := &database.Schema{
		Dialect: database.DialectMySQL,
		Tables:  make([]database.Table, 0),
	}

	tables, err := i.GetTables(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, tableName := range tables {
		table := database.Table{Name: tableName}

		columns, err := i.GetColumns(ctx, q, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to get columns for table %s: %w", tableName, err)
		}
		table.Columns = columns

		indexes, err := i.GetIndexes(ctx, q, tableName)
		if err != nil {
			return nil, fmt.Errorf("failed to get indexes for table %s: %w", tableName, err)
		}
		table.Indexes = indexes

		schema.Tables = append(schema.Tables, table)
	}

	return schema, nil
}

// GetTables returns all base tables in the current database
func (i *Introspector) GetTables(ctx context.Context, q database.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}

	return tableNames, rows.Err()
}

const columnsQuery = `
		SELECT column_name, data_type, is_nullable, column_default, column_key, extra
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name = ?
		ORDER BY ordinal_position
	`

// GetColumns returns all columns for a given MySQL table
func (i *Introspector) GetColumns(ctx context.Context, q database.Querier, tableName string) ([]database.Column, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	for rows.Next() {
		var col database.Column
		var nullable, key, extra string
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &col.Type, &nullable, &defaultVal, &key, &extra); err != nil {
			return nil, err
		}

		col.Nullable = nullable == "YES"
		col.IsPrimaryKey = key == "PRI"
		col.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		col.Width = typeWidth(col.Type)
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

const indexesQuery = `
		SELECT index_name, non_unique, column_name
		FROM information_schema.statistics
		WHERE table_schema = DATABASE()
		  AND table_name = ?
		  AND index_name <> 'PRIMARY'
		ORDER BY index_name, seq_in_index
	`

// GetIndexes returns all secondary indexes for a given MySQL table
func (i *Introspector) GetIndexes(ctx context.Context, q database.Querier, tableName string) ([]database.Index, error) {
	rows, err := q.QueryContext(ctx, indexesQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("query failed for table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []database.Index
	for rows.Next() {
		var name, column string
		var nonUnique int
		if err := rows.Scan(&name, &nonUnique, &column); err != nil {
			return nil, err
		}

		if n := len(indexes); n > 0 && indexes[n-1].Name == name {
			indexes[n-1].Columns = append(indexes[n-1].Columns, column)
			continue
		}
		indexes = append(indexes, database.Index{Name: name, Unique: nonUnique == 0, Columns: []string{column}})
	}

	return indexes, rows.Err()
}

func typeWidth(dataType string) int {
	switch strings.ToLower(dataType) {
	case "tinyint":
		return 8
	case "smallint":
		return 16
	case "mediumint":
		return 24
	case "int", "integer", "float":
		return 32
	case "bigint", "double":
		return 64
	}
	return 0
}
