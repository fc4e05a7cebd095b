package migration

import "fmt"

// StepError reports the step that failed. Unwrap yields the engine error.
type StepError struct {
	Domain string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %s/%s failed: %v", e.Domain, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
