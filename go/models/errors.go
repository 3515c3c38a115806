package models

import (
	"github.com/pkg/errors"
)

// Error taxonomy shared by every backend and the handoff orchestrator.
// Callers match with errors.Is or errors.Cause; packages wrap these with context.
var (
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrUnknownRegister    = errors.New("unknown register")
	ErrAddressOutOfRange  = errors.New("address out of range")
	ErrBreakpointConsumed = errors.New("breakpoint already consumed")
	ErrPartialStateRead   = errors.New("partial state read")
	ErrHandoffTimeout     = errors.New("handoff timeout")
	ErrBackendInit        = errors.New("backend init failed")
	ErrTeardown           = errors.New("teardown failed")

	ErrBackendStopped = errors.New("backend stopped")
	ErrResetFailed    = errors.New("reset failed")
	ErrInvalidConfig  = errors.New("invalid config")
)

// RegisterError names the register an operation failed on.
type RegisterError struct {
	Backend string
	Reg     string
	Err     error
}

func (e *RegisterError) Error() string {
	return e.Backend + ": register " + e.Reg + ": " + e.Err.Error()
}

func (e *RegisterError) Cause() error  { return e.Err }
func (e *RegisterError) Unwrap() error { return e.Err }

func UnknownRegister(backend, reg string) error {
	return errors.WithStack(&RegisterError{Backend: backend, Reg: reg, Err: ErrUnknownRegister})
}
