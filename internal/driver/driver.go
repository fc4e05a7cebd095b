package driver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/database/mysql"
	"github.com/lockplane/metamigrate/database/postgres"
	"github.com/lockplane/metamigrate/database/sqlite"
)

// New creates a database driver for the dialect.
func New(dialect database.Dialect) (database.Driver, error) {
	switch dialect {
	case database.DialectPostgres:
		return postgres.NewDriver(), nil
	case database.DialectMySQL:
		return mysql.NewDriver(), nil
	case database.DialectSQLite:
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}
}

// Open a connection to the database, and run a ping to test it. SQLite
// files and their parent directories are created on demand.
//
// The caller must have imported the database/sql driver packages.
func Open(ctx context.Context, connStr string) (*sql.DB, database.Driver, error) {
	dialect, err := database.DetectDialect(connStr)
	if err != nil {
		return nil, nil, err
	}
	drv, err := New(dialect)
	if err != nil {
		return nil, nil, err
	}
	sqlDriverName, err := database.SQLDriverName(connStr)
	if err != nil {
		return nil, nil, err
	}
	dsn, err := database.DataSourceName(connStr)
	if err != nil {
		return nil, nil, err
	}

	if sqlDriverName == "sqlite" && connStr != ":memory:" {
		if err := ensureParentDir(database.SQLiteFilePath(connStr)); err != nil {
			return nil, nil, err
		}
	}

	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, drv, nil
}

func ensureParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
