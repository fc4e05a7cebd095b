// Package storage holds what the three metadata stores share: the
// connection contract, the capability probes, and the lifecycle
// (Init, Upgrade, Reindex, Wipe) that drives a domain's migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/logging"
	"github.com/lockplane/metamigrate/internal/migration"
)

// Domain names one independently migrated store.
type Domain string

const (
	DomainRuns      Domain = "runs"
	DomainEventLogs Domain = "event_logs"
	DomainSchedules Domain = "schedules"
)

// Domains returns every domain in the order instances migrate them.
func Domains() []Domain {
	return []Domain{DomainRuns, DomainEventLogs, DomainSchedules}
}

// ParseDomain accepts a domain name as printed by String.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !slices.Contains(Domains(), d) {
		return "", fmt.Errorf("unknown storage domain %q (want runs, event_logs or schedules)", s)
	}
	return d, nil
}

func (d Domain) String() string {
	return string(d)
}

// Config describes one domain's store.
type Config struct {
	Domain   Domain
	DB       *sql.DB
	Driver   database.Driver
	Registry *migration.Registry

	// Tables is the current shape, created on a fresh database.
	Tables []database.Table
	// WipeTables are emptied by Wipe, in order.
	WipeTables []string
}

type options struct {
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Store is the part of a domain store that does not depend on its rows.
type Store struct {
	cfg    Config
	runner *migration.Runner
	logger *zap.Logger
	clock  func() time.Time
}

// New creates a store. It does not touch the database; call Init.
func New(cfg Config, opts ...Option) *Store {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger).With(zap.String("domain", cfg.Domain.String()))

	return &Store{
		cfg:    cfg,
		logger: logger,
		clock:  o.clock,
		runner: migration.NewRunner(cfg.DB, cfg.Driver, cfg.Registry,
			migration.WithLogger(logger),
			migration.WithClock(o.clock)),
	}
}

// Domain returns the store's domain.
func (s *Store) Domain() Domain {
	return s.cfg.Domain
}

// DB returns the connection pool.
func (s *Store) DB() *sql.DB {
	return s.cfg.DB
}

// Driver returns the engine driver.
func (s *Store) Driver() database.Driver {
	return s.cfg.Driver
}

// Registry returns the domain's migration steps.
func (s *Store) Registry() *migration.Registry {
	return s.cfg.Registry
}

// Tables returns the descriptors of the current shape.
func (s *Store) Tables() []database.Table {
	return slices.Clone(s.cfg.Tables)
}

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger {
	return s.logger
}

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// Connect checks out a dedicated connection. The caller must close it.
func (s *Store) Connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s storage: %w", s.cfg.Domain, err)
	}
	return conn, nil
}

// WithConnection runs fn on a dedicated connection and releases it on
// every path.
func (s *Store) WithConnection(ctx context.Context, fn func(c *migration.Conn) error) error {
	conn, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	return fn(s.wrap(conn))
}

// Tx runs fn in a transaction, committing when it returns nil.
func (s *Store) Tx(ctx context.Context, fn func(c *migration.Conn) error) error {
	tx, err := s.cfg.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(s.wrap(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Conn wraps the pool for single statements that need no session state.
func (s *Store) Conn() *migration.Conn {
	return s.wrap(s.cfg.DB)
}

func (s *Store) wrap(q database.Querier) *migration.Conn {
	return migration.NewConn(q, s.cfg.Driver, s.cfg.Domain.String(), s.logger)
}

// WithLock runs fn on a dedicated connection holding the domain lock.
func (s *Store) WithLock(ctx context.Context, fn func(ctx context.Context, c *migration.Conn) error) error {
	return s.runner.WithLock(ctx, fn)
}

// Init creates the tables of a fresh database and stamps every step, or
// leaves an existing database at its baseline. Reports whether the tables
// were created.
func (s *Store) Init(ctx context.Context) (bool, error) {
	created, err := s.runner.Bootstrap(ctx, s.cfg.Tables)
	if err != nil {
		return false, fmt.Errorf("failed to initialize %s storage: %w", s.cfg.Domain, err)
	}
	return created, nil
}

// Upgrade applies pending structural and mandatory data steps.
func (s *Store) Upgrade(ctx context.Context) ([]string, error) {
	if _, err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.runner.Upgrade(ctx)
}

// Reindex applies pending optional data steps.
func (s *Store) Reindex(ctx context.Context) ([]string, error) {
	if _, err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.runner.Reindex(ctx)
}

// Applied reports whether the named step has run.
func (s *Store) Applied(ctx context.Context, name string) (bool, error) {
	return s.runner.Applied(ctx, name)
}

// Status lists every step of the domain with its marker.
func (s *Store) Status(ctx context.Context) ([]migration.StepStatus, error) {
	return s.runner.Status(ctx)
}

// HasTable reports whether the table exists.
func (s *Store) HasTable(ctx context.Context, table string) (bool, error) {
	return s.Conn().HasTable(ctx, table)
}

// HasColumn reports whether the table has the column.
func (s *Store) HasColumn(ctx context.Context, table, column string) (bool, error) {
	return s.Conn().HasColumn(ctx, table, column)
}

// HasIndex reports whether the table has the named index.
func (s *Store) HasIndex(ctx context.Context, table, index string) (bool, error) {
	return s.Conn().HasIndex(ctx, table, index)
}

// Introspect reads the schema of the domain's tables, including tables
// created outside the descriptors.
func (s *Store) Introspect(ctx context.Context) (*database.Schema, error) {
	return s.cfg.Driver.IntrospectSchema(ctx, s.cfg.DB)
}

// RequireTable returns an InvalidInvocationError built by missing when
// the table does not exist.
func (s *Store) RequireTable(ctx context.Context, table string, missing func() error) error {
	exists, err := s.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return missing()
	}
	return nil
}

// Columns returns the set of column names of a table.
func (s *Store) Columns(ctx context.Context, table string) (map[string]bool, error) {
	columns, err := s.cfg.Driver.GetColumns(ctx, s.cfg.DB, table)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(columns))
	for _, col := range columns {
		names[col.Name] = true
	}
	return names, nil
}

// Wipe deletes every row of the domain's tables and resets its markers
// to empty. The tables themselves stay.
func (s *Store) Wipe(ctx context.Context) error {
	return s.runner.WithLock(ctx, func(ctx context.Context, c *migration.Conn) error {
		for _, table := range s.cfg.WipeTables {
			exists, err := c.HasTable(ctx, table)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			if _, err := c.Exec(ctx, fmt.Sprintf("DELETE FROM %s", database.QuoteIdent(table))); err != nil {
				return fmt.Errorf("failed to wipe %s: %w", table, err)
			}
		}
		return c.ClearMarkers(ctx)
	})
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.cfg.DB.Close()
}
