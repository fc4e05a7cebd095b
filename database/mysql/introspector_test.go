package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/go-sql-driver/mysql"

	"github.com/lockplane/metamigrate/database"
)

// getTestDB returns a live MySQL connection or skips the test
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("MYSQL_TEST_URL")
	if dbURL == "" {
		t.Skip("Skipping test: MYSQL_TEST_URL not set")
	}
	dsn, err := database.DataSourceName(dbURL)
	if err != nil {
		t.Fatalf("DataSourceName failed: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("Skipping test: cannot open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Skipf("Skipping test: database not available: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIntrospector_GetColumnsMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default", "column_key", "extra"}).
		AddRow("id", "int", "NO", nil, "PRI", "auto_increment").
		AddRow("key", "varchar", "NO", nil, "UNI", "").
		AddRow("start_time", "float", "YES", nil, "", "").
		AddRow("end_time", "double", "YES", nil, "", "")
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("kvs").WillReturnRows(rows)

	columns, err := NewIntrospector().GetColumns(context.Background(), db, "kvs")
	if err != nil {
		t.Fatalf("GetColumns failed: %v", err)
	}
	if len(columns) != 4 {
		t.Fatalf("Expected 4 columns, got %d", len(columns))
	}
	if !columns[0].IsPrimaryKey || !columns[0].AutoIncrement || columns[0].Width != 32 {
		t.Errorf("Expected 32-bit auto_increment primary key, got %+v", columns[0])
	}
	if columns[1].IsPrimaryKey || columns[1].Width != 0 {
		t.Errorf("Unexpected key column %+v", columns[1])
	}
	if columns[2].Width != 32 || columns[3].Width != 64 {
		t.Errorf("Expected float=32 double=64, got %d and %d", columns[2].Width, columns[3].Width)
	}
}

func TestIntrospector_GetIndexesMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"index_name", "non_unique", "column_name"}).
		AddRow("idx_runs_by_backfill_id", 1, "backfill_id").
		AddRow("idx_runs_by_backfill_id", 1, "id").
		AddRow("idx_runs_run_id", 0, "run_id")
	mock.ExpectQuery("FROM information_schema.statistics").WithArgs("runs").WillReturnRows(rows)

	indexes, err := NewIntrospector().GetIndexes(context.Background(), db, "runs")
	if err != nil {
		t.Fatalf("GetIndexes failed: %v", err)
	}
	if len(indexes) != 2 {
		t.Fatalf("Expected 2 indexes, got %+v", indexes)
	}
	if indexes[0].Unique || len(indexes[0].Columns) != 2 {
		t.Errorf("Unexpected backfill index %+v", indexes[0])
	}
	if !indexes[1].Unique {
		t.Errorf("Expected unique run_id index, got %+v", indexes[1])
	}
}

func TestDriver_LockMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	mock.ExpectQuery(`SELECT GET_LOCK`).WithArgs("metamigrate:schedules").
		WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery(`SELECT RELEASE_LOCK`).WithArgs("metamigrate:schedules").
		WillReturnRows(sqlmock.NewRows([]string{"released"}).AddRow(1))

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	release, err := NewDriver().Lock(ctx, conn, "metamigrate:schedules")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestDriver_LockNotAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(nil))

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := NewDriver().Lock(ctx, conn, "metamigrate:runs"); err == nil {
		t.Fatal("Expected error when GET_LOCK returns NULL")
	}
}

func TestDriver_SupportsFeature(t *testing.T) {
	driver := NewDriver()
	if driver.SupportsFeature(database.FeatureTransactionalDDL) {
		t.Error("MySQL DDL is not transactional")
	}
	if !driver.SupportsFeature(database.FeatureNarrowIntegers) {
		t.Error("MySQL has 32-bit integers")
	}
}

func TestIntrospector_LiveAutoIncrementWidening(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	driver := NewDriver()

	table := fmt.Sprintf("widen_test_%d", time.Now().UnixNano())
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (id INT NOT NULL AUTO_INCREMENT PRIMARY KEY, name TEXT)`, table)); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	defer func() { _, _ = db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)) }()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, table), name); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	before, err := driver.GetColumns(ctx, db, table)
	if err != nil {
		t.Fatalf("GetColumns failed: %v", err)
	}
	for _, step := range driver.WidenIdentifier(table, before[0]) {
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			t.Fatalf("Step %q failed: %v", step.Description, err)
		}
	}

	after, err := driver.GetColumns(ctx, db, table)
	if err != nil {
		t.Fatalf("GetColumns failed: %v", err)
	}
	if after[0].Width != 64 || !after[0].AutoIncrement {
		t.Errorf("Expected 64-bit auto_increment id, got %+v", after[0])
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES ('d')`, table))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id, _ := res.LastInsertId(); id != 4 {
		t.Errorf("Expected AUTO_INCREMENT to continue at 4, got %d", id)
	}
}
