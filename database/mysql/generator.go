package mysql

import (
	"fmt"
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// Generator implements database.SQLGenerator for MySQL. Identifiers are
// double-quoted; connections must run with ANSI_QUOTES (see
// database.DataSourceName).
type Generator struct{}

// NewGenerator creates a new MySQL SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// CreateTable generates MySQL SQL to create a table
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

// AddColumn generates MySQL SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		database.QuoteIdent(tableName),
		g.FormatColumnDefinition(col))
	return sql, fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// AddIndex generates MySQL SQL to add an index. MySQL has no
// CREATE INDEX IF NOT EXISTS; callers check first.
func (g *Generator) AddIndex(tableName string, idx database.Index) (string, string) {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	sql := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique,
		database.QuoteIdent(idx.Name),
		database.QuoteIdent(tableName),
		database.QuoteIdents(idx.Columns))
	return sql, fmt.Sprintf("Create index %s on table %s", idx.Name, tableName)
}

// DropIndex generates MySQL SQL to drop an index
func (g *Generator) DropIndex(tableName string, idx database.Index) (string, string) {
	sql := fmt.Sprintf("DROP INDEX %s ON %s", database.QuoteIdent(idx.Name), database.QuoteIdent(tableName))
	return sql, fmt.Sprintf("Drop index %s from table %s", idx.Name, tableName)
}

// AlterColumnType generates MODIFY COLUMN with the full column definition
func (g *Generator) AlterColumnType(tableName string, col database.Column) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Change type of %s.%s to %s", tableName, col.Name, physicalType(col.Type)),
		SQL: fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s",
			database.QuoteIdent(tableName), g.FormatColumnDefinition(col)),
	}}
}

// AddIdentityColumn adds an AUTO_INCREMENT primary key. MySQL numbers the
// existing rows while rebuilding the table.
func (g *Generator) AddIdentityColumn(table database.Table, col database.Column) []database.PlanStep {
	col.IsPrimaryKey = true
	col.AutoIncrement = true
	sql, _ := g.AddColumn(table.Name, col)
	return []database.PlanStep{{
		Description: fmt.Sprintf("Add primary key %s to table %s", col.Name, table.Name),
		SQL:         sql + " FIRST",
	}}
}

// WidenIdentifier rewrites the column as BIGINT AUTO_INCREMENT. The
// table's AUTO_INCREMENT counter is kept by the rebuild.
func (g *Generator) WidenIdentifier(tableName string, col database.Column) []database.PlanStep {
	return []database.PlanStep{{
		Description: fmt.Sprintf("Widen %s.%s to BIGINT", tableName, col.Name),
		SQL: fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s BIGINT NOT NULL AUTO_INCREMENT",
			database.QuoteIdent(tableName), database.QuoteIdent(col.Name)),
	}}
}

// Upsert generates an INSERT ... ON DUPLICATE KEY UPDATE statement
func (g *Generator) Upsert(tableName string, keyColumns, columns []string) string {
	var sets []string
	for _, col := range database.NonKeyColumns(keyColumns, columns) {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", database.QuoteIdent(col), database.QuoteIdent(col)))
	}
	if len(sets) == 0 {
		return g.InsertIgnore(tableName, keyColumns, columns)
	}
	return insert(tableName, columns) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// InsertIgnore generates an INSERT whose duplicate-key branch is a no-op.
// INSERT IGNORE is avoided because it also downgrades other errors.
func (g *Generator) InsertIgnore(tableName string, keyColumns, columns []string) string {
	key := database.QuoteIdent(keyColumns[0])
	return insert(tableName, columns) + fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", key, key)
}

func insert(tableName string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdent(tableName),
		database.QuoteIdents(columns),
		database.Placeholders(len(columns)))
}

// FormatColumnDefinition formats a column definition for MySQL
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	if col.IsPrimaryKey && col.AutoIncrement {
		return fmt.Sprintf("%s %s NOT NULL AUTO_INCREMENT PRIMARY KEY", database.QuoteIdent(col.Name), physicalType(col.Type))
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

// ParameterPlaceholder returns ? for MySQL
func (g *Generator) ParameterPlaceholder(position int) string {
	return "?"
}

func physicalType(logical string) string {
	lower := strings.ToLower(strings.TrimSpace(logical))
	switch {
	case lower == "bigint":
		return "BIGINT"
	case lower == "integer", lower == "int":
		return "INT"
	case strings.HasPrefix(lower, "varchar"):
		return strings.ToUpper(lower)
	case lower == "text":
		return "TEXT"
	case lower == "long_text":
		return "LONGTEXT"
	case lower == "double":
		return "DOUBLE"
	case lower == "float":
		return "FLOAT"
	case lower == "timestamp":
		return "DATETIME(6)"
	case lower == "boolean":
		return "BOOL"
	}
	return logical
}
