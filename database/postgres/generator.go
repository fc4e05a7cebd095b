package postgres

import (
	"fmt"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// Generator implements database.SQLGenerator for PostgreSQL
type Generator struct{}

// NewGenerator creates a new PostgreSQL SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable generates PostgreSQL SQL to create a table
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

// AddColumn generates PostgreSQL SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		database.QuoteIdent(tableName),
		g.FormatColumnDefinition(col))
	return sql, fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// AddIndex generates PostgreSQL SQL to add an index
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

// DropIndex generates PostgreSQL SQL to drop an index
func (g *Generator) DropIndex(tableName string, idx database.Index) (string, string) {
	sql := fmt.Sprintf("DROP INDEX IF EXISTS %s", database.QuoteIdent(idx.Name))
	return sql, fmt.Sprintf("Drop index %s from table %s", idx.Name, tableName)
}

// AlterColumnType generates ALTER COLUMN ... TYPE
func (g *Generator) AlterColumnType(tableName string, col database.Column) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Change type of %s.%s to %s", tableName, col.Name, physicalType(col.Type)),
		SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
			database.QuoteIdent(tableName), database.QuoteIdent(col.Name), physicalType(col.Type)),
	}}
}

// AddIdentityColumn adds a SERIAL primary key. PostgreSQL fills the new
// column for existing rows from the sequence.
func (g *Generator) AddIdentityColumn(table database.Table, col database.Column) []database.PlanStep {
	col.IsPrimaryKey = true
	col.AutoIncrement = true
	sql, _ := g.AddColumn(table.Name, col)
	return []database.PlanStep{{
		Description: fmt.Sprintf("Add primary key %s to table %s", col.Name, table.Name),
		SQL:         sql,
	}}
}

// WidenIdentifier converts the column to BIGINT and, when a sequence
// owns it, widens the sequence so it keeps counting past 2^31.
func (g *Generator) WidenIdentifier(tableName string, col database.Column) []database.PlanStep {
	table := database.QuoteIdent(tableName)
	column := database.QuoteIdent(col.Name)
	description := fmt.Sprintf("Widen %s.%s to BIGINT", tableName, col.Name)

	return []database.PlanStep{
		{
			Description: description,
			SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE BIGINT", table, column),
		},
		{
			Description: description,
			SQL: fmt.Sprintf(`DO $$
DECLARE seq text := pg_get_serial_sequence('%s', '%s');
BEGIN
  IF seq IS NOT NULL THEN
    EXECUTE format('ALTER SEQUENCE %%s AS BIGINT', seq);
  END IF;
END
$$`, literal(table), literal(col.Name)),
		},
	}
}

// Upsert generates an INSERT ... ON CONFLICT DO UPDATE statement
func (g *Generator) Upsert(tableName string, keyColumns, columns []string) string {
	return database.InsertOnConflict(tableName, keyColumns, columns, true)
}

// InsertIgnore generates an INSERT ... ON CONFLICT DO NOTHING statement
func (g *Generator) InsertIgnore(tableName string, keyColumns, columns []string) string {
	return database.InsertOnConflict(tableName, keyColumns, columns, false)
}

// FormatColumnDefinition formats a column definition for PostgreSQL
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	if col.IsPrimaryKey && col.AutoIncrement {
		serial := "BIGSERIAL"
		if strings.EqualFold(col.Type, "integer") || strings.EqualFold(col.Type, "int") {
			serial = "SERIAL"
		}
		return fmt.Sprintf("%s %s PRIMARY KEY", database.QuoteIdent(col.Name), serial)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s", database.QuoteIdent(col.Name), physicalType(col.Type)))

	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		sb.WriteString(fmt.Sprintf(" DEFAULT %s", *col.Default))
	}
	if col.IsPrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}

	return sb.String()
}

// ParameterPlaceholder returns $1, $2, ... for PostgreSQL
func (g *Generator) ParameterPlaceholder(position int) string {
	return fmt.Sprintf("$%d", position)
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
	case lower == "double":
		return "DOUBLE PRECISION"
	case lower == "float":
		return "REAL"
	case lower == "timestamp":
		return "TIMESTAMP"
	case lower == "boolean":
		return "BOOLEAN"
	}
	return logical
}

// literal escapes s for use inside a single-quoted string.
func literal(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
