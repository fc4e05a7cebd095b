// Package instance opens the three metadata stores of a deployment and
// drives their migrations together.
package instance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/driver"
	"github.com/lockplane/metamigrate/internal/logging"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
	"github.com/lockplane/metamigrate/internal/storage/eventlog"
	"github.com/lockplane/metamigrate/internal/storage/runs"
	"github.com/lockplane/metamigrate/internal/storage/schedules"
)

// Config holds the connection strings of each store.
type Config struct {
	RunStorageURL      string
	EventLogStorageURL string
	ScheduleStorageURL string

	Logger *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// URL returns the connection string of a domain.
func (c Config) URL(d storage.Domain) string {
	switch d {
	case storage.DomainRuns:
		return c.RunStorageURL
	case storage.DomainEventLogs:
		return c.EventLogStorageURL
	case storage.DomainSchedules:
		return c.ScheduleStorageURL
	}
	return ""
}

// Instance is an opened deployment.
type Instance struct {
	Runs      *runs.Storage
	EventLogs *eventlog.Storage
	Schedules *schedules.Storage

	logger *zap.Logger
}

// Result lists the steps applied per domain.
type Result map[storage.Domain][]string

// Open connects to every store and initializes it. Event log storage is
// opened first since run storage reads from it.
func Open(ctx context.Context, cfg Config) (inst *Instance, err error) {
	logger := logging.OrNop(cfg.Logger)
	opts := []storage.Option{storage.WithLogger(logger)}
	if cfg.Clock != nil {
		opts = append(opts, storage.WithClock(cfg.Clock))
	}

	var pools []*sql.DB
	defer func() {
		if err != nil {
			for _, db := range pools {
				_ = db.Close()
			}
		}
	}()
	open := func(d storage.Domain) (*sql.DB, database.Driver, error) {
		url := cfg.URL(d)
		if url == "" {
			return nil, nil, fmt.Errorf("no connection string for %s storage", d)
		}
		db, drv, err := driver.Open(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("%s storage: %w", d, err)
		}
		pools = append(pools, db)
		return db, drv, nil
	}

	eventsDB, eventsDrv, err := open(storage.DomainEventLogs)
	if err != nil {
		return nil, err
	}
	runsDB, runsDrv, err := open(storage.DomainRuns)
	if err != nil {
		return nil, err
	}
	schedulesDB, schedulesDrv, err := open(storage.DomainSchedules)
	if err != nil {
		return nil, err
	}

	events := eventlog.New(eventsDB, eventsDrv, opts...)
	inst = &Instance{
		EventLogs: events,
		Runs:      runs.New(runsDB, runsDrv, events, opts...),
		Schedules: schedules.New(schedulesDB, schedulesDrv, opts...),
		logger:    logger,
	}

	if _, err := inst.EventLogs.Init(ctx); err != nil {
		return nil, err
	}
	if _, err := inst.Runs.Init(ctx); err != nil {
		return nil, err
	}
	if _, err := inst.Schedules.Init(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// Store returns the shared part of a domain's storage.
func (i *Instance) Store(d storage.Domain) *storage.Store {
	switch d {
	case storage.DomainRuns:
		return i.Runs.Store
	case storage.DomainEventLogs:
		return i.EventLogs.Store
	case storage.DomainSchedules:
		return i.Schedules.Store
	}
	return nil
}

// Stores returns every domain's storage in migration order.
func (i *Instance) Stores() []*storage.Store {
	var stores []*storage.Store
	for _, d := range storage.Domains() {
		stores = append(stores, i.Store(d))
	}
	return stores
}

// Upgrade applies pending structural and mandatory data steps in each
// domain in turn, stopping at the first failure.
func (i *Instance) Upgrade(ctx context.Context) (Result, error) {
	return i.each(ctx, "upgrade", (*storage.Store).Upgrade)
}

// Reindex applies pending optional data steps in each domain in turn.
func (i *Instance) Reindex(ctx context.Context) (Result, error) {
	return i.each(ctx, "reindex", (*storage.Store).Reindex)
}

func (i *Instance) each(ctx context.Context, op string, fn func(*storage.Store, context.Context) ([]string, error)) (Result, error) {
	result := Result{}
	for _, s := range i.Stores() {
		applied, err := fn(s, ctx)
		if len(applied) > 0 {
			result[s.Domain()] = applied
		}
		if err != nil {
			return result, err
		}
		i.logger.Debug(op+" finished", zap.String("domain", s.Domain().String()), zap.Int("applied", len(applied)))
	}
	return result, nil
}

// Status returns the step markers of every domain.
func (i *Instance) Status(ctx context.Context) (map[storage.Domain][]migration.StepStatus, error) {
	status := map[storage.Domain][]migration.StepStatus{}
	for _, s := range i.Stores() {
		st, err := s.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s storage: %w", s.Domain(), err)
		}
		status[s.Domain()] = st
	}
	return status, nil
}

// Wipe empties every domain. All domains are attempted.
func (i *Instance) Wipe(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range i.Stores() {
		if err := s.Wipe(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s storage: %w", s.Domain(), err))
		}
	}
	return result.ErrorOrNil()
}

// Close closes every connection pool.
func (i *Instance) Close() error {
	var result *multierror.Error
	for _, s := range i.Stores() {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s storage: %w", s.Domain(), err))
		}
	}
	return result.ErrorOrNil()
}
