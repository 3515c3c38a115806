package handoff

import (
	"fmt"

	"github.com/hybricorn/hybricorn/go/models"
)

// RunError is returned when a handoff run fails. Err is the first failure,
// Teardown holds whatever went wrong while stopping the backends afterwards.
type RunError struct {
	State    State
	Err      error
	Teardown error
}

func (e *RunError) Error() string {
	s := fmt.Sprintf("handoff failed in %s: %v", e.State, e.Err)
	if e.Teardown != nil {
		s += fmt.Sprintf(" (teardown: %v)", e.Teardown)
	}
	return s
}

func (e *RunError) Cause() error  { return e.Err }
func (e *RunError) Unwrap() error { return e.Err }

// TeardownError is returned alongside a successful Result when stopping a backend failed.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("%v: %v", models.ErrTeardown, e.Err)
}

func (e *TeardownError) Unwrap() []error {
	return []error{models.ErrTeardown, e.Err}
}
