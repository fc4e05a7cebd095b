package bigint

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/database/mysql"
	"github.com/lockplane/metamigrate/database/postgres"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

var (
	postgresColumns = []string{"column_name", "data_type", "is_nullable", "column_default", "is_identity", "is_primary_key"}
	mysqlColumns    = []string{"column_name", "data_type", "is_nullable", "column_default", "column_key", "extra"}
)

func TestNarrow(t *testing.T) {
	tests := []struct {
		col  database.Column
		want bool
	}{
		{database.Column{Type: "integer", Width: 32}, true},
		{database.Column{Type: "int", Width: 32}, true},
		{database.Column{Type: "bigint", Width: 64}, false},
		{database.Column{Type: "real", Width: 32}, false},
		{database.Column{Type: "float", Width: 32}, false},
		{database.Column{Type: "INTEGER", Width: 64}, false},
		{database.Column{Type: "text"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Narrow(tt.col), "%+v", tt.col)
	}
}

func TestWidenPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").WithArgs("runs").
		WillReturnRows(sqlmock.NewRows(postgresColumns).
			AddRow("id", "integer", "NO", "nextval('runs_id_seq'::regclass)", "NO", true).
			AddRow("run_id", "character varying", "NO", nil, "NO", false))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "runs" ALTER COLUMN "id" TYPE BIGINT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`pg_get_serial_sequence('"runs"', 'id')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("run_tags").
		WillReturnRows(sqlmock.NewRows(postgresColumns).
			AddRow("id", "bigint", "NO", "nextval('run_tags_id_seq'::regclass)", "NO", true))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("kvs").
		WillReturnRows(sqlmock.NewRows(postgresColumns).
			AddRow("key", "text", "NO", nil, "NO", false))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(postgresColumns))

	c := migration.NewConn(db, postgres.NewDriver(), "runs", nil)
	widened, err := widen(context.Background(), c, []string{"runs", "run_tags", "kvs", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"runs"}, widened)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWidenMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM information_schema.columns").WithArgs("event_logs").
		WillReturnRows(sqlmock.NewRows(mysqlColumns).
			AddRow("id", "int", "NO", nil, "PRI", "auto_increment"))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "event_logs" MODIFY COLUMN "id" BIGINT NOT NULL AUTO_INCREMENT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := migration.NewConn(db, mysql.NewDriver(), "event_logs", nil)
	widened, err := widen(context.Background(), c, []string{"event_logs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"event_logs"}, widened)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHoldsLockAndStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	engineErr := errors.New("lock timeout")
	s := storage.New(storage.Config{
		Domain:   storage.DomainRuns,
		DB:       db,
		Driver:   postgres.NewDriver(),
		Registry: migration.NewRegistry(storage.DomainRuns.String()),
		Tables:   []database.Table{{Name: "runs"}, {Name: "run_tags"}},
	})

	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_lock($1)`)).
		WithArgs(database.HashLockKey(migration.LockKey("runs"))).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("runs").
		WillReturnRows(sqlmock.NewRows(postgresColumns).
			AddRow("id", "integer", "NO", "nextval('runs_id_seq'::regclass)", "NO", true))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "runs" ALTER COLUMN "id" TYPE BIGINT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER SEQUENCE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM information_schema.columns").WithArgs("run_tags").
		WillReturnRows(sqlmock.NewRows(postgresColumns).
			AddRow("id", "integer", "NO", "nextval('run_tags_id_seq'::regclass)", "NO", true))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "run_tags" ALTER COLUMN "id" TYPE BIGINT`)).
		WillReturnError(engineErr)
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := Run(context.Background(), s)
	require.ErrorIs(t, err, engineErr)
	assert.Contains(t, err.Error(), "runs storage")
	assert.Equal(t, Report{storage.DomainRuns: {"runs"}}, report)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInstanceSQLiteIsNoop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inst, err := instance.Open(ctx, instance.Config{
		RunStorageURL:      "sqlite://" + filepath.Join(dir, "runs.db"),
		EventLogStorageURL: "sqlite://" + filepath.Join(dir, "event_logs.db"),
		ScheduleStorageURL: "sqlite://" + filepath.Join(dir, "schedules.db"),
	})
	require.NoError(t, err)
	defer func() { _ = inst.Close() }()

	report, err := RunInstance(ctx, inst)
	require.NoError(t, err)
	assert.Empty(t, report)
}
