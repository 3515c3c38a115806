// Package mock provides an in-memory models.Backend for exercising handoff logic without hardware.
package mock

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

// Events records calls across several backends so tests can check ordering.
type Events struct {
	sync.Mutex
	List []string
}

func (e *Events) Add(format string, a ...interface{}) {
	if e == nil {
		return
	}
	e.Lock()
	e.List = append(e.List, fmt.Sprintf(format, a...))
	e.Unlock()
}

func (e *Events) Get() []string {
	e.Lock()
	defer e.Unlock()
	return append([]string(nil), e.List...)
}

type Backend struct {
	sync.Mutex
	ID     string
	Arch   *models.Arch
	Events *Events

	Regs map[string]uint64
	// Mem is sparse byte-addressed memory for MemRead/MemWrite.
	Mem map[uint64]byte

	ReadErr     map[string]error
	WriteErr    map[string]error
	MemErr      error
	BpErr       error
	ContinueErr error
	StopErr     error
	// Hang keeps Continue from reaching any breakpoint.
	Hang bool

	Breakpoints []*models.Breakpoint
	Writes      []string
	Continued   int
	Stopped     int
}

func NewBackend(id string, arch *models.Arch, events *Events) *Backend {
	return &Backend{
		ID:       id,
		Arch:     arch,
		Events:   events,
		Regs:     make(map[string]uint64),
		Mem:      make(map[uint64]byte),
		ReadErr:  make(map[string]error),
		WriteErr: make(map[string]error),
	}
}

func (b *Backend) Name() string { return b.ID }

func (b *Backend) known(name string) bool {
	if b.Arch != nil && b.Arch.Known(name) {
		return true
	}
	_, ok := b.Regs[name]
	return ok
}

func (b *Backend) RegRead(name string) (uint64, error) {
	b.Lock()
	defer b.Unlock()
	if err := b.ReadErr[name]; err != nil {
		return 0, err
	}
	if !b.known(name) {
		return 0, models.UnknownRegister(b.ID, name)
	}
	return b.Regs[name], nil
}

func (b *Backend) RegWrite(name string, val uint64) error {
	b.Lock()
	defer b.Unlock()
	if err := b.WriteErr[name]; err != nil {
		return err
	}
	if !b.known(name) {
		return models.UnknownRegister(b.ID, name)
	}
	b.Regs[name] = val
	b.Writes = append(b.Writes, name)
	return nil
}

func (b *Backend) SetBreakpoint(addr uint64) (*models.Breakpoint, error) {
	b.Lock()
	defer b.Unlock()
	if b.BpErr != nil {
		return nil, b.BpErr
	}
	if b.Arch != nil && addr > b.Arch.AddrMax() {
		return nil, errors.Wrapf(models.ErrAddressOutOfRange, "%s: %#x", b.ID, addr)
	}
	bp := models.NewBreakpoint(b.ID, addr)
	b.Breakpoints = append(b.Breakpoints, bp)
	b.Events.Add("%s: break %#x", b.ID, addr)
	return bp, nil
}

// Continue "runs" to the first armed breakpoint, setting pc to it.
func (b *Backend) Continue() error {
	b.Lock()
	defer b.Unlock()
	b.Continued++
	b.Events.Add("%s: continue", b.ID)
	if b.ContinueErr != nil {
		return b.ContinueErr
	}
	if b.Hang {
		return nil
	}
	for _, bp := range b.Breakpoints {
		if bp.Armed() {
			if b.Arch != nil {
				b.Regs[b.Arch.PC] = bp.Addr
			}
			go bp.Fire()
			break
		}
	}
	return nil
}

func (b *Backend) Stop() error {
	b.Lock()
	defer b.Unlock()
	b.Stopped++
	b.Events.Add("%s: stop", b.ID)
	for _, bp := range b.Breakpoints {
		bp.Abort(models.ErrBackendStopped)
	}
	return b.StopErr
}

func (b *Backend) MemRead(addr, size uint64) ([]byte, error) {
	b.Lock()
	defer b.Unlock()
	if b.MemErr != nil {
		return nil, b.MemErr
	}
	p := make([]byte, size)
	for i := range p {
		p[i] = b.Mem[addr+uint64(i)]
	}
	return p, nil
}

func (b *Backend) MemWrite(addr uint64, p []byte) error {
	b.Lock()
	defer b.Unlock()
	if b.MemErr != nil {
		return b.MemErr
	}
	for i, c := range p {
		b.Mem[addr+uint64(i)] = c
	}
	return nil
}

var _ models.Backend = &Backend{}
var _ models.MemoryBackend = &Backend{}
