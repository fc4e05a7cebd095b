// Package bigint widens the 32-bit "id" columns of older databases to
// 64 bits.
//
// Each table is altered in place: existing ids keep their values and the
// backing sequence carries on from where it was. The statements cannot
// run in a transaction on every engine, so each table commits on its own
// and a failed run is resumed by running it again.
package bigint

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/database"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/migration"
	"github.com/lockplane/metamigrate/internal/storage"
)

// IDColumn is the only column the migration touches.
const IDColumn = "id"

// Report lists the widened tables per domain.
type Report map[storage.Domain][]string

// RunInstance widens every domain of an instance.
func RunInstance(ctx context.Context, inst *instance.Instance) (Report, error) {
	return Run(ctx, inst.Stores()...)
}

// Run widens the narrow identifiers of each store's tables, one domain at
// a time under that domain's migration lock. Domains after a failing one
// are not touched.
func Run(ctx context.Context, stores ...*storage.Store) (Report, error) {
	report := Report{}
	for _, s := range stores {
		var tables []string
		for _, t := range s.Tables() {
			tables = append(tables, t.Name)
		}

		var widened []string
		err := s.WithLock(ctx, func(ctx context.Context, c *migration.Conn) error {
			var err error
			widened, err = widen(ctx, c, tables)
			return err
		})
		if len(widened) > 0 {
			report[s.Domain()] = widened
		}
		if err != nil {
			return report, fmt.Errorf("%s storage: %w", s.Domain(), err)
		}
		s.Logger().Info("identifier widening finished", zap.Int("tables", len(widened)))
	}
	return report, nil
}

// widen alters each listed table whose id column is narrow and returns
// the tables it altered. Missing tables are skipped.
func widen(ctx context.Context, c *migration.Conn, tables []string) ([]string, error) {
	var widened []string
	for _, table := range tables {
		col, ok, err := c.Column(ctx, table, IDColumn)
		if err != nil {
			return widened, fmt.Errorf("failed to inspect %s.%s: %w", table, IDColumn, err)
		}
		if !ok || !Narrow(col) {
			continue
		}

		c.Logger().Info("widening identifier",
			zap.String("domain", c.Domain()),
			zap.String("table", table),
			zap.String("type", col.Type))
		if err := c.ExecSteps(ctx, c.Driver().WidenIdentifier(table, col)); err != nil {
			return widened, err
		}
		widened = append(widened, table)
	}
	return widened, nil
}

// Narrow reports whether an introspected column is a 32-bit integer.
func Narrow(col database.Column) bool {
	if col.Width != 32 {
		return false
	}
	switch strings.ToLower(col.Type) {
	case "integer", "int", "int4", "serial":
		return true
	}
	return false
}
