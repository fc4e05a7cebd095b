package bigint_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/bigint"
	"github.com/lockplane/metamigrate/internal/dbtest"
	"github.com/lockplane/metamigrate/internal/driver"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
	"github.com/lockplane/metamigrate/internal/storage/eventlog"
	"github.com/lockplane/metamigrate/internal/storage/runs"
	"github.com/lockplane/metamigrate/internal/storage/schedules"
)

// dropAll removes every table the instance manages so that a reused
// server starts empty.
func dropAll(t *testing.T, db *sql.DB) {
	t.Helper()
	names := []string{migration.MarkerTable}
	for _, tables := range [][]database.Table{runs.Tables(), eventlog.Tables(), schedules.Tables()} {
		for _, table := range tables {
			names = append(names, table.Name)
		}
	}
	for _, name := range names {
		_, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", database.QuoteIdent(name)))
		require.NoError(t, err)
	}
}

func testWidening(t *testing.T, url, narrowTable, insertSQL string, readType func(*sql.DB) (string, error)) {
	ctx := context.Background()
	db, _, err := driver.Open(ctx, url)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	dropAll(t, db)

	_, err = db.Exec(narrowTable)
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		_, err = db.Exec(`INSERT INTO "runs" ("run_id") VALUES ('` + id + `')`)
		require.NoError(t, err)
	}

	inst, err := instance.Open(ctx, instance.Config{RunStorageURL: url, EventLogStorageURL: url, ScheduleStorageURL: url})
	require.NoError(t, err)
	defer func() { _ = inst.Close() }()

	report, err := bigint.RunInstance(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, bigint.Report{storage.DomainRuns: {"runs"}}, report)

	dataType, err := readType(db)
	require.NoError(t, err)
	assert.Equal(t, "bigint", dataType)

	var ids []int64
	rows, err := db.Query(`SELECT "id" FROM "runs" ORDER BY "id"`)
	require.NoError(t, err)
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []int64{1, 2}, ids)

	_, err = db.Exec(insertSQL)
	require.NoError(t, err)
	var last int64
	require.NoError(t, db.QueryRow(`SELECT MAX("id") FROM "runs"`).Scan(&last))
	assert.Equal(t, int64(3), last)

	again, err := bigint.RunInstance(ctx, inst)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestWidenPostgresServer(t *testing.T) {
	url := dbtest.Postgres(t)
	testWidening(t, url,
		`CREATE TABLE "runs" ("id" SERIAL PRIMARY KEY, "run_id" VARCHAR(255) NOT NULL)`,
		`INSERT INTO "runs" ("run_id") VALUES ('c')`,
		func(db *sql.DB) (string, error) {
			var dataType string
			err := db.QueryRow(`SELECT data_type FROM information_schema.columns
				WHERE table_schema = current_schema() AND table_name = 'runs' AND column_name = 'id'`).Scan(&dataType)
			return dataType, err
		})
}

func TestWidenMySQLServer(t *testing.T) {
	url := dbtest.MySQL(t)
	testWidening(t, url,
		`CREATE TABLE "runs" ("id" INT NOT NULL AUTO_INCREMENT PRIMARY KEY, "run_id" VARCHAR(255) NOT NULL)`,
		`INSERT INTO "runs" ("run_id") VALUES ('c')`,
		func(db *sql.DB) (string, error) {
			var dataType string
			err := db.QueryRow(`SELECT data_type FROM information_schema.columns
				WHERE table_schema = DATABASE() AND table_name = 'runs' AND column_name = 'id'`).Scan(&dataType)
			return dataType, err
		})
}
