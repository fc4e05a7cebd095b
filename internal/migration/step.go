// Package migration applies named, forward-only schema and data steps to a
// storage domain and records each applied step in a marker table.
//
// There are no down migrations. A step that needs undoing is superseded by
// a later step.
package migration

import (
	"context"
	"fmt"
	"time"
)

// Kind tells the runners when a step may run.
type Kind int

const (
	// Structural steps add tables, columns or indexes. Run by Upgrade.
	Structural Kind = iota
	// MandatoryData steps rewrite rows that later code depends on. Run by Upgrade.
	MandatoryData
	// OptionalData steps backfill denormalized data. Run only by Reindex.
	OptionalData
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case MandatoryData:
		return "mandatory_data"
	case OptionalData:
		return "optional_data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Step is one named migration.
//
// Up must leave the database in the same state whether it runs against a
// database before or after its target shape, so it guards schema changes
// with existence checks and data changes with IS NULL predicates or
// upserts.
type Step struct {
	Name        string
	Kind        Kind
	Description string

	// Isolated steps run outside a transaction. Engines without
	// transactional DDL run every step this way.
	Isolated bool

	Up func(ctx context.Context, c *Conn) error
}

// StepStatus pairs a registered step with its marker.
type StepStatus struct {
	Step      Step
	Applied   bool
	AppliedAt time.Time
}
