// Package dbtest starts throwaway PostgreSQL and MySQL servers for
// integration tests.
//
// POSTGRES_TEST_URL and MYSQL_TEST_URL point the tests at an existing
// server instead. Tests are skipped when neither a URL nor a Docker
// daemon is available.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/lockplane/metamigrate/database"
)

const (
	postgresImage = "postgres"
	postgresTag   = "16-alpine"
	mysqlImage    = "mysql"
	mysqlTag      = "8.4"

	password = "password"
	dbName   = "metamigrate"
)

// Postgres returns a connection string to a PostgreSQL database. The
// caller's database/sql driver for postgres must be registered.
func Postgres(t testing.TB) string {
	t.Helper()
	if url := os.Getenv("POSTGRES_TEST_URL"); url != "" {
		return url
	}
	return start(t, &dockertest.RunOptions{
		Repository: postgresImage,
		Tag:        postgresTag,
		Env:        []string{"POSTGRES_PASSWORD=" + password, "POSTGRES_DB=" + dbName},
		Cmd:        []string{"-c", "fsync=off"},
	}, "5432/tcp", func(hostPort string) string {
		return fmt.Sprintf("postgres://postgres:%s@%s/%s?sslmode=disable", password, hostPort, dbName)
	})
}

// MySQL returns a connection string to a MySQL database.
func MySQL(t testing.TB) string {
	t.Helper()
	if url := os.Getenv("MYSQL_TEST_URL"); url != "" {
		return url
	}
	return start(t, &dockertest.RunOptions{
		Repository: mysqlImage,
		Tag:        mysqlTag,
		Env:        []string{"MYSQL_ROOT_PASSWORD=" + password, "MYSQL_DATABASE=" + dbName},
	}, "3306/tcp", func(hostPort string) string {
		return fmt.Sprintf("mysql://root:%s@%s/%s", password, hostPort, dbName)
	})
}

func start(t testing.TB, opts *dockertest.RunOptions, port string, url func(hostPort string) string) string {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(opts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start %s: %v", opts.Repository, err)
	}
	t.Cleanup(func() {
		if err := purge(pool, resource); err != nil {
			t.Logf("dbtest: %v", err)
		}
	})
	_ = resource.Expire(600)

	connStr := url(resource.GetHostPort(port))
	if err := pool.Retry(func() error { return ping(connStr) }); err != nil {
		t.Fatalf("%s did not become ready: %v", opts.Repository, err)
	}
	return connStr
}

func ping(connStr string) error {
	name, err := database.SQLDriverName(connStr)
	if err != nil {
		return err
	}
	dsn, err := database.DataSourceName(connStr)
	if err != nil {
		return err
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

func purge(pool *dockertest.Pool, resource *dockertest.Resource) error {
	var err error
	for range 10 {
		if err = pool.Purge(resource); err == nil {
			return nil
		}
	}
	if strings.Contains(err.Error(), "No such container") {
		return nil
	}
	return fmt.Errorf("failed to clean up container: %w", err)
}
