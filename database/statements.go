package database

import (
	"fmt"
	"strings"
)

// Placeholders returns n comma-separated ? placeholders.
func Placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// InsertOnConflict builds an INSERT ... ON CONFLICT statement as accepted
// by SQLite and PostgreSQL. When update is set, non-key columns are
// overwritten on conflict; otherwise the row is skipped.
func InsertOnConflict(tableName string, keyColumns, columns []string, update bool) string {
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		QuoteIdent(tableName),
		QuoteIdents(columns),
		Placeholders(len(columns)),
		QuoteIdents(keyColumns))

	var sets []string
	for _, col := range NonKeyColumns(keyColumns, columns) {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", QuoteIdent(col), QuoteIdent(col)))
	}
	if !update || len(sets) == 0 {
		return sql + " DO NOTHING"
	}
	return sql + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// RebuildTableName names the copy a table is rebuilt into before it
// replaces the original.
func RebuildTableName(tableName string) string {
	return tableName + "_new"
}

// NonKeyColumns returns the columns not listed in keyColumns, in order.
func NonKeyColumns(keyColumns, columns []string) []string {
	keys := make(map[string]bool, len(keyColumns))
	for _, key := range keyColumns {
		keys[key] = true
	}
	var rest []string
	for _, col := range columns {
		if !keys[col] {
			rest = append(rest, col)
		}
	}
	return rest
}

// HashLockKey produces a stable int64 from a lock key using FNV-1a.
func HashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
