package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// Introspector implements database.Introspector for SQLite
type Introspector struct{}

// NewIntrospector creates a new SQLite introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// IntrospectSchema reads the entire SQLite database schema
func (i *Introspector) IntrospectSchema(ctx context.Context, q database.Querier) (*database.Schema, error) {
	schema := &database.Schema{Dialect: database.DialectSQLite}

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

// GetTables returns all table names in the SQLite database
func (i *Introspector) GetTables(ctx context.Context, q database.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
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

// GetColumns returns all columns for a given SQLite table.
//
// Every SQLite integer is stored in up to 8 bytes and every float as an
// 8-byte IEEE value, so numeric widths are always 64.
func (i *Introspector) GetColumns(ctx context.Context, q database.Querier, tableName string) ([]database.Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", database.QuoteIdent(tableName)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	pkCount := 0
	for rows.Next() {
		var cid int
		var col database.Column
		var notNull int
		var defaultVal sql.NullString
		var pk int

		// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}

		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if col.IsPrimaryKey {
			pkCount++
		}
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}
		col.Width = typeWidth(col.Type)

		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// A lone INTEGER PRIMARY KEY aliases the rowid and autoincrements.
	if pkCount == 1 {
		for idx := range columns {
			if columns[idx].IsPrimaryKey && strings.EqualFold(columns[idx].Type, "INTEGER") {
				columns[idx].AutoIncrement = true
				columns[idx].Nullable = false
			}
		}
	}

	return columns, nil
}

// GetIndexes returns all explicitly created indexes for a given SQLite table
func (i *Introspector) GetIndexes(ctx context.Context, q database.Querier, tableName string) ([]database.Index, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", database.QuoteIdent(tableName)))
	if err != nil {
		return nil, err
	}

	var indexes []database.Index
	for rows.Next() {
		var seq int
		var idx database.Index
		var origin string
		var partial int
		var unique int

		// PRAGMA index_list returns: seq, name, unique, origin, partial
		if err := rows.Scan(&seq, &idx.Name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return nil, err
		}
		idx.Unique = unique == 1

		// Skip auto-created indexes (like for primary keys)
		if origin == "c" && !strings.HasPrefix(idx.Name, "sqlite_autoindex") {
			indexes = append(indexes, idx)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for n := range indexes {
		columns, err := indexColumns(ctx, q, indexes[n].Name)
		if err != nil {
			return nil, err
		}
		indexes[n].Columns = columns
	}

	sort.Slice(indexes, func(a, b int) bool { return indexes[a].Name < indexes[b].Name })

	return indexes, nil
}

func indexColumns(ctx context.Context, q database.Querier, indexName string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", database.QuoteIdent(indexName)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString

		// PRAGMA index_info returns: seqno, cid, name
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			columns = append(columns, name.String)
		}
	}
	return columns, rows.Err()
}

func typeWidth(declared string) int {
	upper := strings.ToUpper(declared)
	switch {
	case strings.Contains(upper, "INT"):
		return 64
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return 64
	}
	return 0
}
