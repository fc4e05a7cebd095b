package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/logging"
)

// LockKey is the advisory lock name a domain's runs are serialized on.
func LockKey(domain string) string {
	return "metamigrate:" + domain
}

// Runner applies a registry's steps to one database.
type Runner struct {
	db       *sql.DB
	driver   database.Driver
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(logger)
	}
}

// WithClock overrides the clock used for marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner for the registry's domain.
func NewRunner(db *sql.DB, driver database.Driver, registry *Registry, opts ...Option) *Runner {
	r := &Runner{
		db:       db,
		driver:   driver,
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the runner's registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Upgrade applies every pending structural and mandatory data step and
// returns the names of the steps it applied. On failure the steps before
// the failing one stay applied.
func (r *Runner) Upgrade(ctx context.Context) ([]string, error) {
	return r.Run(ctx, Structural, MandatoryData)
}

// Reindex applies every pending optional data step.
func (r *Runner) Reindex(ctx context.Context) ([]string, error) {
	return r.Run(ctx, OptionalData)
}

// Run applies the pending steps of the given kinds, in order, under the
// domain lock.
func (r *Runner) Run(ctx context.Context, kinds ...Kind) ([]string, error) {
	var applied []string
	err := r.WithLock(ctx, func(ctx context.Context, c *Conn) error {
		if err := c.EnsureMarkers(ctx); err != nil {
			return err
		}
		for _, step := range r.registry.Steps() {
			if !containsKind(kinds, step.Kind) {
				continue
			}
			// Re-read before every step: an earlier step may have
			// cleared a marker.
			markers, err := c.AppliedMarkers(ctx)
			if err != nil {
				return err
			}
			if _, done := markers[step.Name]; done {
				r.logger.Debug("step already applied",
					zap.String("domain", r.registry.Domain()),
					zap.String("step", step.Name))
				continue
			}
			if err := r.apply(ctx, c, step); err != nil {
				return err
			}
			applied = append(applied, step.Name)
		}
		return nil
	})
	return applied, err
}

func (r *Runner) apply(ctx context.Context, c *Conn, step Step) error {
	start := time.Now()
	fields := []zap.Field{
		zap.String("domain", r.registry.Domain()),
		zap.String("step", step.Name),
		zap.String("kind", step.Kind.String()),
	}
	r.logger.Info("applying step", fields...)

	var err error
	if step.Isolated || !r.driver.SupportsFeature(database.FeatureTransactionalDDL) {
		err = r.applyDirect(ctx, c, step)
	} else {
		err = r.applyInTx(ctx, c, step)
	}
	if err != nil {
		r.logger.Error("step failed", append(fields, zap.Error(err))...)
		return &StepError{Domain: r.registry.Domain(), Step: step.Name, Err: err}
	}

	r.logger.Info("step applied", append(fields, zap.Duration("duration", time.Since(start)))...)
	return nil
}

func (r *Runner) applyDirect(ctx context.Context, c *Conn, step Step) error {
	if err := step.Up(ctx, c); err != nil {
		return err
	}
	return c.Mark(ctx, step.Name, step.Kind, r.now())
}

func (r *Runner) applyInTx(ctx context.Context, c *Conn, step Step) error {
	conn, ok := c.Querier().(*sql.Conn)
	if !ok {
		return fmt.Errorf("step %s needs a dedicated connection", step.Name)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txConn := NewConn(tx, r.driver, r.registry.Domain(), r.logger)
	if err := step.Up(ctx, txConn); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := txConn.Mark(ctx, step.Name, step.Kind, r.now()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// WithLock runs fn on a dedicated connection holding the domain lock.
func (r *Runner) WithLock(ctx context.Context, fn func(ctx context.Context, c *Conn) error) (err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	release, err := r.driver.Lock(ctx, conn, LockKey(r.registry.Domain()))
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", r.registry.Domain(), err)
	}
	defer func() {
		if releaseErr := release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	return fn(ctx, NewConn(conn, r.driver, r.registry.Domain(), r.logger))
}

// Stamp marks every registered step applied without running it. Used
// when the current shape was created directly.
func (r *Runner) Stamp(ctx context.Context, c *Conn) error {
	if err := c.EnsureMarkers(ctx); err != nil {
		return err
	}
	now := r.now()
	for _, step := range r.registry.Steps() {
		if err := c.Mark(ctx, step.Name, step.Kind, now); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap creates the marker table and, when none of the given tables
// exist, creates all of them at their current shape and stamps every
// step. Databases that already hold some of the tables are left at
// whatever baseline they are on. Reports whether the tables were created.
func (r *Runner) Bootstrap(ctx context.Context, tables []database.Table) (bool, error) {
	var created bool
	err := r.WithLock(ctx, func(ctx context.Context, c *Conn) error {
		for _, table := range tables {
			exists, err := c.HasTable(ctx, table.Name)
			if err != nil {
				return err
			}
			if exists {
				return c.EnsureMarkers(ctx)
			}
		}

		create := func(c *Conn) error {
			for _, table := range tables {
				if err := c.CreateTableIfAbsent(ctx, table); err != nil {
					return err
				}
			}
			return r.Stamp(ctx, c)
		}

		created = true
		if !r.driver.SupportsFeature(database.FeatureTransactionalDDL) {
			return create(c)
		}
		tx, err := c.Querier().(*sql.Conn).BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := create(NewConn(tx, r.driver, r.registry.Domain(), r.logger)); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	if created {
		r.logger.Info("created storage tables", zap.String("domain", r.registry.Domain()))
	}
	return created, nil
}

// Reset removes every marker of the domain.
func (r *Runner) Reset(ctx context.Context) error {
	return r.WithLock(ctx, func(ctx context.Context, c *Conn) error {
		return c.ClearMarkers(ctx)
	})
}

// Applied reports whether the named step has a marker. It runs nothing.
func (r *Runner) Applied(ctx context.Context, name string) (bool, error) {
	if _, ok := r.registry.Lookup(name); !ok {
		return false, fmt.Errorf("unknown migration %s/%s", r.registry.Domain(), name)
	}
	markers, err := r.conn().AppliedMarkers(ctx)
	if err != nil {
		return false, err
	}
	_, ok := markers[name]
	return ok, nil
}

// Status lists every registered step with its marker.
func (r *Runner) Status(ctx context.Context) ([]StepStatus, error) {
	markers, err := r.conn().AppliedMarkers(ctx)
	if err != nil {
		return nil, err
	}
	steps := r.registry.Steps()
	statuses := make([]StepStatus, len(steps))
	for i, step := range steps {
		at, ok := markers[step.Name]
		statuses[i] = StepStatus{Step: step, Applied: ok, AppliedAt: at}
	}
	return statuses, nil
}

// conn returns an unlocked handle on the pool for read-only probes.
func (r *Runner) conn() *Conn {
	return NewConn(r.db, r.driver, r.registry.Domain(), r.logger)
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return len(kinds) == 0
}
