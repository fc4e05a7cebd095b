package locks

import (
	"strings"

	"github.com/lockplane/metamigrate/database"
)

// DetectLockMode classifies a single SQL statement by the table lock it
// takes when it runs.
func DetectLockMode(sql string) LockMode {
	sqlUpper := strings.ToUpper(strings.TrimSpace(sql))
	if sqlUpper == "" {
		return LockAccessShare // Empty SQL = no locks
	}

	// CREATE INDEX patterns
	if strings.HasPrefix(sqlUpper, "CREATE INDEX") || strings.HasPrefix(sqlUpper, "CREATE UNIQUE INDEX") {
		if strings.Contains(sqlUpper, "CONCURRENTLY") {
			return LockShareUpdateExclusive
		}
		return LockShare
	}

	// ALTER TABLE patterns
	if strings.HasPrefix(sqlUpper, "ALTER TABLE") {
		if strings.Contains(sqlUpper, "VALIDATE CONSTRAINT") {
			return LockShareUpdateExclusive
		}
		// Most ALTER TABLE operations take ACCESS EXCLUSIVE
		return LockAccessExclusive
	}

	if strings.HasPrefix(sqlUpper, "ALTER SEQUENCE") {
		return LockShareRowExclusive
	}

	// DROP TABLE, DROP INDEX, TRUNCATE
	if strings.HasPrefix(sqlUpper, "DROP TABLE") ||
		strings.HasPrefix(sqlUpper, "DROP INDEX") ||
		strings.HasPrefix(sqlUpper, "TRUNCATE") {
		return LockAccessExclusive
	}

	// CREATE TABLE - no lock on the table itself (it doesn't exist yet)
	if strings.HasPrefix(sqlUpper, "CREATE TABLE") {
		return LockAccessShare
	}

	// INSERT, UPDATE, DELETE
	if strings.HasPrefix(sqlUpper, "INSERT") ||
		strings.HasPrefix(sqlUpper, "UPDATE") ||
		strings.HasPrefix(sqlUpper, "DELETE") {
		return LockRowExclusive
	}

	// SELECT and catalog reads
	if strings.HasPrefix(sqlUpper, "SELECT") ||
		strings.HasPrefix(sqlUpper, "WITH") ||
		strings.HasPrefix(sqlUpper, "PRAGMA") {
		return LockAccessShare
	}

	// Anything else, DO blocks included, is assumed to lock the table.
	return LockAccessExclusive
}

// AnalyzeStatement returns detailed lock impact information for a plan step
func AnalyzeStatement(step database.PlanStep) *LockImpact {
	lockMode := DetectLockMode(step.SQL)

	return &LockImpact{
		Operation:    step.Description,
		LockMode:     lockMode,
		BlocksReads:  lockMode.BlocksReads(),
		BlocksWrites: lockMode.BlocksWrites(),
		Impact:       lockMode.ImpactLevel(),
		Explanation:  explainLockMode(step.SQL, lockMode),
	}
}

// explainLockMode provides a human-readable explanation of why this lock is needed
func explainLockMode(sql string, mode LockMode) string {
	sqlUpper := strings.ToUpper(strings.TrimSpace(sql))
	if sqlUpper == "" {
		return "No SQL operations"
	}

	switch mode {
	case LockAccessExclusive:
		if strings.HasPrefix(sqlUpper, "ALTER TABLE") {
			switch {
			case strings.Contains(sqlUpper, "ADD COLUMN") && strings.Contains(sqlUpper, "PRIMARY KEY"):
				return "Adding a primary key rewrites the table and builds its index"
			case strings.Contains(sqlUpper, "ADD COLUMN") && strings.Contains(sqlUpper, "DEFAULT"):
				return "ALTER TABLE ADD COLUMN with DEFAULT may rewrite the entire table"
			case strings.Contains(sqlUpper, "ADD COLUMN"):
				return "ALTER TABLE requires exclusive access to modify table structure"
			case strings.Contains(sqlUpper, "TYPE"), strings.Contains(sqlUpper, "MODIFY COLUMN"):
				return "Changing column type may require rewriting the entire table"
			case strings.Contains(sqlUpper, "RENAME"):
				return "Renaming a table requires exclusive access"
			}
			return "ALTER TABLE operation requires exclusive access"
		}
		if strings.HasPrefix(sqlUpper, "DROP TABLE") {
			return "DROP TABLE requires exclusive access to remove the table"
		}
		if strings.HasPrefix(sqlUpper, "DROP INDEX") {
			return "DROP INDEX requires exclusive access to the indexed table"
		}
		if strings.HasPrefix(sqlUpper, "TRUNCATE") {
			return "TRUNCATE requires exclusive access to delete all rows"
		}
		if strings.HasPrefix(sqlUpper, "DO") {
			return "Procedural block; the statements it runs are not inspected"
		}
		return "This operation requires exclusive table access"

	case LockShareRowExclusive:
		return "ALTER SEQUENCE blocks concurrent nextval callers briefly"

	case LockShare:
		return "CREATE INDEX requires SHARE lock, blocking writes during index build"

	case LockShareUpdateExclusive:
		if strings.Contains(sqlUpper, "VALIDATE CONSTRAINT") {
			return "VALIDATE CONSTRAINT allows concurrent reads and writes"
		}
		return "CREATE INDEX CONCURRENTLY allows concurrent reads and writes"

	case LockRowExclusive:
		return "Normal DML operation (INSERT/UPDATE/DELETE)"

	case LockAccessShare:
		return "Read-only operation"

	default:
		return "Standard locking for this operation type"
	}
}
