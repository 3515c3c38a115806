// Package unicorn is the emulator backend: a Unicorn CPU with the firmware's
// memory map, with peripheral accesses forwarded to the hardware target.
package unicorn

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/cpu"
	"github.com/hybricorn/hybricorn/go/forward"
	"github.com/hybricorn/hybricorn/go/loader"
	"github.com/hybricorn/hybricorn/go/models"
)

const pageSize = 0x1000

var ErrRunning = errors.New("emulator is running")

type Config struct {
	Arch   *models.Arch
	Memory []models.MemoryRegion
	// Ranges are serviced by Remote instead of local memory.
	Ranges forward.Ranges
	Remote models.MemoryBackend
	Trace  bool
	Log    *zap.Logger
}

type Emulator struct {
	Arch *models.Arch
	Log  *zap.Logger

	u      uc.Unicorn
	ranges forward.Ranges
	remote models.MemoryBackend
	mapped []models.MemoryRegion
	dis    *cpu.Capstr

	mu           sync.Mutex
	running      bool
	stopped      bool
	interrupting bool
	stopping     bool
	done         chan struct{}
	fwdErr       error
	bps          []*models.Breakpoint
	bpHooks      map[*models.Breakpoint]uc.Hook
	// reached is only touched on the emulation goroutine
	reached      []*models.Breakpoint
}

// New builds the emulator. Failures wrap models.ErrBackendInit.
func New(cfg Config) (*Emulator, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	u, err := uc.NewUnicorn(cfg.Arch.UC_ARCH, cfg.Arch.UC_MODE)
	if err != nil {
		return nil, errors.Wrapf(models.ErrBackendInit, "NewUnicorn() failed: %v", err)
	}
	e := &Emulator{
		Arch:    cfg.Arch,
		Log:     log.Named("emu"),
		u:       u,
		ranges:  cfg.Ranges,
		remote:  cfg.Remote,
		bpHooks: make(map[*models.Breakpoint]uc.Hook),
	}
	if err := e.init(cfg); err != nil {
		u.Close()
		return nil, errors.Wrap(models.ErrBackendInit, err.Error())
	}
	return e, nil
}

func (e *Emulator) init(cfg Config) error {
	for _, m := range cfg.Memory {
		if err := e.mapRegion(m); err != nil {
			return err
		}
	}
	for _, m := range cfg.Memory {
		if m.File == "" {
			continue
		}
		if err := e.loadFile(m); err != nil {
			return err
		}
	}
	for _, r := range e.ranges {
		if err := e.mapForwarded(r); err != nil {
			return err
		}
	}
	if e.remote != nil && len(e.ranges) > 0 {
		if err := e.hookForwarding(); err != nil {
			return err
		}
	}
	if cfg.Trace {
		e.dis = &cpu.Capstr{Arch: e.Arch.CS_ARCH, Mode: e.Arch.CS_MODE}
		if _, err := e.u.HookAdd(uc.HOOK_CODE, e.trace, 1, 0); err != nil {
			return errors.Wrap(err, "trace hook")
		}
	}
	return nil
}

func (e *Emulator) mapRegion(m models.MemoryRegion) error {
	prot, err := m.ProtBits()
	if err != nil {
		return err
	}
	addr := forward.AlignDown(m.Addr, pageSize)
	size := forward.Align(m.End()-addr, pageSize)
	if err := e.u.MemMapProt(addr, size, prot); err != nil {
		return errors.Wrapf(err, "mapping %s at %#x+%#x", m.Name, addr, size)
	}
	m.Addr, m.Size = addr, size
	e.mapped = append(e.mapped, m)
	e.Log.Debug("mapped", zap.String("name", m.Name), zap.Uint64("addr", addr), zap.Uint64("size", size))
	return nil
}

// loadFile writes a region's image. ELF segments outside every mapped region are skipped.
func (e *Emulator) loadFile(m models.MemoryRegion) error {
	segs, err := loader.LoadImage(m.File, m.Addr)
	if err != nil {
		return errors.Wrapf(err, "loading %s", m.Name)
	}
	for _, s := range segs {
		if !e.isMapped(s.Addr, uint64(len(s.Data))) {
			e.Log.Warn("segment outside memory map", zap.Stringer("segment", s))
			continue
		}
		if err := e.u.MemWrite(s.Addr, s.Data); err != nil {
			return errors.Wrapf(err, "writing %s", s)
		}
		e.Log.Debug("loaded", zap.String("region", m.Name), zap.Stringer("segment", s))
	}
	return nil
}

func (e *Emulator) isMapped(addr, size uint64) bool {
	for _, m := range e.mapped {
		if addr >= m.Addr && addr+size <= m.End() {
			return true
		}
	}
	return false
}

func (e *Emulator) mapForwarded(r models.PeripheralRange) error {
	if e.isMapped(r.Base, r.Size) {
		return nil
	}
	for _, m := range e.mapped {
		if r.Base < m.End() && m.Addr < r.End() {
			return errors.Wrapf(models.ErrInvalidConfig, "forward %s partially overlaps memory %s", r.Name, m.Name)
		}
	}
	return e.mapRegion(models.MemoryRegion{Name: r.Name, Addr: r.Base, Size: r.Size, Prot: "rwx"})
}

func (e *Emulator) Name() string { return "emu" }

func (e *Emulator) idle() error {
	if e.stopped {
		return errors.WithStack(models.ErrBackendStopped)
	}
	if e.running {
		return errors.WithStack(ErrRunning)
	}
	return nil
}

func (e *Emulator) reg(name string) (int, error) {
	enum, ok := e.Arch.UcRegs[name]
	if !ok {
		return 0, models.UnknownRegister(e.Name(), name)
	}
	return enum, nil
}

func (e *Emulator) RegRead(name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idle(); err != nil {
		return 0, err
	}
	enum, err := e.reg(name)
	if err != nil {
		return 0, err
	}
	val, err := e.u.RegRead(enum)
	if err != nil {
		return 0, errors.WithStack(&models.RegisterError{Backend: e.Name(), Reg: name, Err: err})
	}
	return val, nil
}

func (e *Emulator) RegWrite(name string, val uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idle(); err != nil {
		return err
	}
	enum, err := e.reg(name)
	if err != nil {
		return err
	}
	if err := e.u.RegWrite(enum, e.Arch.Mask(val)); err != nil {
		return errors.WithStack(&models.RegisterError{Backend: e.Name(), Reg: name, Err: err})
	}
	return nil
}

// SetBreakpoint arms a one-shot code hook at addr, which must be mapped.
func (e *Emulator) SetBreakpoint(addr uint64) (*models.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idle(); err != nil {
		return nil, err
	}
	if addr > e.Arch.AddrMax() || !e.isMapped(addr, 2) {
		return nil, errors.Wrapf(models.ErrAddressOutOfRange, "emu: breakpoint at %#x is not mapped", addr)
	}
	bp := models.NewBreakpoint(e.Name(), addr)
	// the hit is delivered by run() once the emulator is idle again
	h, err := e.u.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		if bp.Armed() {
			e.reached = append(e.reached, bp)
			mu.Stop()
		}
	}, addr, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "emu: breakpoint at %#x", addr)
	}
	e.bps = append(e.bps, bp)
	e.bpHooks[bp] = h
	return bp, nil
}

// Continue starts emulation at pc on its own goroutine.
func (e *Emulator) Continue() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idle(); err != nil {
		return err
	}
	pc, err := e.u.RegRead(e.Arch.UcRegs[e.Arch.PC])
	if err != nil {
		return errors.Wrap(err, "emu: reading pc")
	}
	// Thumb execution state is selected by bit 0 of the start address
	if e.Arch.Mode.Bit != 0 {
		pc |= 1
	}
	e.running = true
	e.interrupting = false
	e.done = make(chan struct{})
	go e.run(pc, e.done)
	return nil
}

func (e *Emulator) run(pc uint64, done chan struct{}) {
	start := time.Now()
	err := e.u.Start(pc, 0)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(done)
	e.running = false
	e.Log.Debug("emulation paused", zap.Duration("ran", time.Since(start)), zap.Error(err))
	for _, bp := range e.reached {
		bp.Fire()
	}
	e.reached = nil

	if e.fwdErr != nil {
		err = multierr.Append(e.fwdErr, err)
		e.fwdErr = nil
	}
	var armed []*models.Breakpoint
	fired := false
	for _, bp := range e.bps {
		fired = fired || bp.Hit()
		if bp.Armed() {
			armed = append(armed, bp)
			continue
		}
		if h, ok := e.bpHooks[bp]; ok {
			e.u.HookDel(h)
			delete(e.bpHooks, bp)
		}
	}
	e.bps = armed
	switch {
	case err != nil:
		cur, _ := e.u.RegRead(e.Arch.UcRegs[e.Arch.PC])
		e.abortAll(errors.Wrapf(err, "emu: stopped at %#x", cur))
	case e.stopping:
		e.abortAll(models.ErrBackendStopped)
	case e.interrupting:
	case len(armed) > 0 && !fired:
		// execution ran off somewhere
		cur, _ := e.u.RegRead(e.Arch.UcRegs[e.Arch.PC])
		e.abortAll(errors.Errorf("emu: stopped at %#x without reaching a breakpoint", cur))
	}
}

func (e *Emulator) abortAll(err error) {
	for _, bp := range e.bps {
		bp.Abort(err)
		if h, ok := e.bpHooks[bp]; ok {
			e.u.HookDel(h)
			delete(e.bpHooks, bp)
		}
	}
	e.bps = nil
}

func (e *Emulator) halt(flag *bool) error {
	e.mu.Lock()
	running, done := e.running, e.done
	if running {
		*flag = true
	}
	e.mu.Unlock()
	if !running {
		return nil
	}
	if err := e.u.Stop(); err != nil {
		return errors.Wrap(err, "emu: stop")
	}
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("emu: timed out waiting for emulation to stop")
	}
}

// Interrupt pauses emulation, leaving breakpoints armed.
func (e *Emulator) Interrupt() error {
	return e.halt(&e.interrupting)
}

// Stop ends emulation and frees the engine. Calling it again is a no-op.
func (e *Emulator) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	errs := e.halt(&e.stopping)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errs
	}
	e.abortAll(models.ErrBackendStopped)
	e.stopped = true
	if err := e.u.Close(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "emu: close"))
	}
	return errs
}

func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, errors.WithStack(models.ErrBackendStopped)
	}
	data, err := e.u.MemRead(addr, size)
	return data, errors.Wrapf(err, "emu: reading %#x+%#x", addr, size)
}

func (e *Emulator) MemWrite(addr uint64, p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.WithStack(models.ErrBackendStopped)
	}
	return errors.Wrapf(e.u.MemWrite(addr, p), "emu: writing %#x", addr)
}

var _ models.Backend = &Emulator{}
var _ models.MemoryBackend = &Emulator{}
