package sqlite

import (
	"fmt"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// Generator implements database.SQLGenerator for SQLite
type Generator struct{}

// NewGenerator creates a new SQLite SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable generates SQLite SQL to create a table
func (g *Generator) CreateTable(table database.Table) (string, string) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", database.QuoteIdent(table.Name)))
	for i, col := range table.Columns {
		sb.WriteString("  ")
		sb.WriteString(g.FormatColumnDefinition(col))
		if i < len(table.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	return sb.String(), fmt.Sprintf("Create table %s", table.Name)
}

// AddColumn generates SQLite SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		database.QuoteIdent(tableName),
		g.FormatColumnDefinition(col))
	return sql, fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// AddIndex generates SQLite SQL to add an index
func (g *Generator) AddIndex(tableName string, idx database.Index) (string, string) {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	sql := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique,
		database.QuoteIdent(idx.Name),
		database.QuoteIdent(tableName),
		database.QuoteIdents(idx.Columns))
	return sql, fmt.Sprintf("Create index %s on table %s", idx.Name, tableName)
}

// DropIndex generates SQLite SQL to drop an index
func (g *Generator) DropIndex(tableName string, idx database.Index) (string, string) {
	sql := fmt.Sprintf("DROP INDEX IF EXISTS %s", database.QuoteIdent(idx.Name))
	return sql, fmt.Sprintf("Drop index %s from table %s", idx.Name, tableName)
}

// AlterColumnType is a no-op: SQLite column types are affinities and
// REAL is already double precision.
func (g *Generator) AlterColumnType(tableName string, col database.Column) []database.PlanStep {
	return nil
}

// AddIdentityColumn rebuilds the table with an INTEGER PRIMARY KEY
// prepended, since SQLite cannot add a primary key to an existing table.
// Existing rows are numbered in rowid order. The statements must run in
// one transaction: between the DROP and the RENAME the rows only exist in
// the copy.
func (g *Generator) AddIdentityColumn(table database.Table, col database.Column) []database.PlanStep {
	tmpTableName := database.RebuildTableName(table.Name)

	idCol := col
	idCol.IsPrimaryKey = true
	idCol.AutoIncrement = true
	idCol.Nullable = false

	newTable := database.Table{Name: tmpTableName, Columns: []database.Column{idCol}}
	var kept []string
	for _, existing := range table.Columns {
		if existing.Name == col.Name {
			continue
		}
		existing.IsPrimaryKey = false
		existing.AutoIncrement = false
		newTable.Columns = append(newTable.Columns, existing)
		kept = append(kept, existing.Name)
	}

	createSQL, _ := g.CreateTable(newTable)
	columnsStr := database.QuoteIdents(kept)
	description := fmt.Sprintf("Add primary key %s to table %s", col.Name, table.Name)

	steps := []database.PlanStep{
		{Description: description, SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", database.QuoteIdent(tmpTableName))},
		{Description: description, SQL: createSQL},
		{Description: description, SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY rowid",
			database.QuoteIdent(tmpTableName), columnsStr, columnsStr, database.QuoteIdent(table.Name))},
		{Description: description, SQL: fmt.Sprintf("DROP TABLE %s", database.QuoteIdent(table.Name))},
		{Description: description, SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			database.QuoteIdent(tmpTableName), database.QuoteIdent(table.Name))},
	}
	for _, idx := range table.Indexes {
		sql, desc := g.AddIndex(table.Name, idx)
		steps = append(steps, database.PlanStep{Description: desc, SQL: sql})
	}
	return steps
}

// WidenIdentifier is a no-op: INTEGER PRIMARY KEY is already the 64-bit
// rowid.
func (g *Generator) WidenIdentifier(tableName string, col database.Column) []database.PlanStep {
	return nil
}

// Upsert generates an INSERT ... ON CONFLICT DO UPDATE statement
func (g *Generator) Upsert(tableName string, keyColumns, columns []string) string {
	return database.InsertOnConflict(tableName, keyColumns, columns, true)
}

// InsertIgnore generates an INSERT ... ON CONFLICT DO NOTHING statement
func (g *Generator) InsertIgnore(tableName string, keyColumns, columns []string) string {
	return database.InsertOnConflict(tableName, keyColumns, columns, false)
}

// FormatColumnDefinition formats a column definition for SQLite
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	if col.IsPrimaryKey && col.AutoIncrement {
		return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", database.QuoteIdent(col.Name))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s", database.QuoteIdent(col.Name), physicalType(col.Type)))

	// Primary key (must come before NOT NULL in SQLite)
	if col.IsPrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		sb.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
	}

	return sb.String()
}

// ParameterPlaceholder returns ? for SQLite
func (g *Generator) ParameterPlaceholder(position int) string {
	return "?"
}

func physicalType(logical string) string {
	lower := strings.ToLower(strings.TrimSpace(logical))
	switch {
	case lower == "bigint":
		return "BIGINT"
	case lower == "integer", lower == "int":
		return "INTEGER"
	case strings.HasPrefix(lower, "varchar"):
		return strings.ToUpper(lower)
	case lower == "text", lower == "long_text":
		return "TEXT"
	case lower == "double", lower == "float":
		return "REAL"
	case lower == "timestamp":
		return "TIMESTAMP"
	case lower == "boolean":
		return "BOOLEAN"
	}
	return logical
}
