package models

// Backend is the capability set shared by the hardware target and the emulator.
// The handoff orchestrator is written only against this interface.
type Backend interface {
	Name() string

	// RegRead and RegWrite fail with ErrUnknownRegister outside the backend's ISA.
	RegRead(name string) (uint64, error)
	RegWrite(name string, val uint64) error

	// SetBreakpoint arms a one-shot execution breakpoint.
	// It fails with ErrAddressOutOfRange if the backend cannot map addr.
	SetBreakpoint(addr uint64) (*Breakpoint, error)

	// Continue resumes execution and returns immediately.
	Continue() error

	// Stop ends the session and releases the transport. Calling it again is a no-op.
	Stop() error
}

// MemoryBackend is implemented by backends that expose their address space.
type MemoryBackend interface {
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, p []byte) error
}
