package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidInvocation matches every InvalidInvocationError.
var ErrInvalidInvocation = errors.New("invalid invocation")

// UpgradeCommand is the command that applies pending migrations.
const UpgradeCommand = "metamigrate upgrade"

// InvalidInvocationError is returned when a call needs a table or column
// that a pending migration creates.
type InvalidInvocationError struct {
	Message string
}

func (e *InvalidInvocationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrInvalidInvocation) hold.
func (e *InvalidInvocationError) Is(target error) bool {
	return target == ErrInvalidInvocation
}

// RequiresUpgrade reports a capability that is unavailable until the
// table is created by an upgrade.
func RequiresUpgrade(capability, table string) error {
	return &InvalidInvocationError{Message: fmt.Sprintf(
		"In order to %s, you must run `%s` to create the %s table.",
		capability, UpgradeCommand, table)}
}

// MissingTable reports that a table does not exist yet.
func MissingTable(table string) error {
	return &InvalidInvocationError{Message: fmt.Sprintf(
		"The %s table does not exist. Run `%s` to create it.", table, UpgradeCommand)}
}
