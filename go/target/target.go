// Package target adapts a GDB remote connection to a halted hardware board into a models.Backend.
package target

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/debug"
	"github.com/hybricorn/hybricorn/go/models"
)

var ErrRunning = errors.New("target is running")

const stopTimeout = 2 * time.Second

type Target struct {
	Arch *models.Arch
	Log  *zap.Logger

	client *debug.Client

	mu       sync.Mutex
	running  bool
	stopping bool
	stopped  bool
	exited   bool
	halted   chan struct{}
	bps      []*models.Breakpoint
	bpTypes  map[uint64]int
}

// Dial connects to the board's gdbserver. Failures wrap models.ErrBackendInit.
func Dial(ctx context.Context, cfg models.TargetConfig, arch *models.Arch, log *zap.Logger) (*Target, error) {
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	client, err := debug.Dial(ctx, cfg.Gdb, cfg.MaxPacket)
	if err != nil {
		return nil, errors.Wrap(models.ErrBackendInit, err.Error())
	}
	return New(client, arch, log), nil
}

func New(client *debug.Client, arch *models.Arch, log *zap.Logger) *Target {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Target{
		Arch:    arch,
		Log:     log.Named("target"),
		client:  client,
		bpTypes: make(map[uint64]int),
	}
	client.Output = func(s string) {
		t.Log.Info("semihosting", zap.String("out", s))
	}
	return t
}

func (t *Target) Name() string { return "target" }

func (t *Target) idle() error {
	if t.stopped {
		return errors.WithStack(models.ErrBackendStopped)
	}
	if t.running {
		return errors.WithStack(ErrRunning)
	}
	return nil
}

func (t *Target) RegRead(name string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return 0, err
	}
	num, ok := t.Arch.GdbRegs[name]
	if !ok {
		return 0, models.UnknownRegister(t.Name(), name)
	}
	val, err := t.client.ReadRegister(num)
	if err != nil {
		return 0, errors.WithStack(&models.RegisterError{Backend: t.Name(), Reg: name, Err: err})
	}
	return val, nil
}

func (t *Target) RegWrite(name string, val uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return err
	}
	num, ok := t.Arch.GdbRegs[name]
	if !ok {
		return models.UnknownRegister(t.Name(), name)
	}
	if err := t.client.WriteRegister(num, t.Arch.Mask(val), t.Arch.Bits/8); err != nil {
		return errors.WithStack(&models.RegisterError{Backend: t.Name(), Reg: name, Err: err})
	}
	return nil
}

// SetBreakpoint prefers a hardware breakpoint, since firmware runs from flash,
// and falls back to a software one if the stub has no Z1.
func (t *Target) SetBreakpoint(addr uint64) (*models.Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return nil, err
	}
	if addr > t.Arch.AddrMax() {
		return nil, errors.Wrapf(models.ErrAddressOutOfRange, "target: breakpoint at %#x", addr)
	}
	typ := debug.BreakHardware
	err := t.client.InsertBreakpoint(typ, addr, t.Arch.BpKind)
	if errors.Is(err, debug.ErrUnsupported) {
		typ = debug.BreakSoftware
		err = t.client.InsertBreakpoint(typ, addr, t.Arch.BpKind)
	}
	if err != nil {
		var re *debug.RemoteError
		if errors.As(err, &re) {
			return nil, errors.Wrapf(models.ErrAddressOutOfRange, "target: breakpoint at %#x: %v", addr, err)
		}
		return nil, errors.Wrapf(err, "target: breakpoint at %#x", addr)
	}
	t.bpTypes[addr] = typ
	bp := models.NewBreakpoint(t.Name(), addr)
	t.bps = append(t.bps, bp)
	t.Log.Debug("breakpoint", zap.Uint64("addr", addr), zap.Int("type", typ))
	return bp, nil
}

func (t *Target) Continue() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return err
	}
	if err := t.client.Continue(); err != nil {
		return errors.Wrap(err, "target: continue")
	}
	t.running = true
	t.halted = make(chan struct{})
	go t.waitStop(t.halted)
	return nil
}

func (t *Target) abortAll(err error) {
	for _, bp := range t.bps {
		bp.Abort(err)
	}
	t.bps = nil
}

// waitStop runs while the board executes and dispatches the stop reply.
func (t *Target) waitStop(halted chan struct{}) {
	reply, err := t.client.WaitStop()

	t.mu.Lock()
	defer t.mu.Unlock()
	defer close(halted)
	t.running = false
	switch {
	case err != nil:
		if t.stopping {
			err = models.ErrBackendStopped
		}
		t.abortAll(errors.Wrap(err, "target: waiting for stop"))
		return
	case reply.Exited():
		t.exited = true
		if t.stopping {
			t.abortAll(models.ErrBackendStopped)
		} else {
			t.abortAll(errors.Errorf("target: session ended (%s)", reply.Raw))
		}
		return
	}

	pc, ok := reply.PC(t.Arch.GdbRegs[t.Arch.PC])
	if !ok {
		if pc, err = t.client.ReadRegister(t.Arch.GdbRegs[t.Arch.PC]); err != nil {
			t.abortAll(errors.Wrap(err, "target: reading pc after stop"))
			return
		}
	}
	t.Log.Debug("stopped", zap.String("reply", reply.Raw), zap.Uint64("pc", pc))
	for i, bp := range t.bps {
		if bp.Addr == pc && bp.Armed() {
			if typ, ok := t.bpTypes[pc]; ok {
				if err := t.client.RemoveBreakpoint(typ, pc, t.Arch.BpKind); err != nil {
					t.Log.Warn("failed to remove breakpoint", zap.Uint64("addr", pc), zap.Error(err))
				}
				delete(t.bpTypes, pc)
			}
			t.bps = append(t.bps[:i], t.bps[i+1:]...)
			bp.Fire()
			return
		}
	}
	if !t.stopping {
		t.abortAll(errors.Errorf("target: unexpected stop at %#x (%s)", pc, reply.Raw))
	}
}

// Interrupt halts a running board without ending the session.
func (t *Target) Interrupt() error {
	t.mu.Lock()
	running, halted := t.running, t.halted
	t.mu.Unlock()
	if !running {
		return nil
	}
	if err := t.client.Interrupt(); err != nil {
		return err
	}
	select {
	case <-halted:
		return nil
	case <-time.After(stopTimeout):
		return errors.New("target: timed out waiting for halt")
	}
}

// Stop halts the board if needed, detaches and closes the connection.
// The board stays halted under the debug probe. Calling Stop again is a no-op.
func (t *Target) Stop() error {
	t.mu.Lock()
	if t.stopped || t.stopping {
		t.mu.Unlock()
		return nil
	}
	t.stopping = true
	running, halted := t.running, t.halted
	t.mu.Unlock()

	var errs error
	if running {
		if err := t.client.Interrupt(); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			select {
			case <-halted:
			case <-time.After(stopTimeout):
				errs = multierr.Append(errs, errors.New("target: timed out waiting for halt"))
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exited && !t.running {
		if err := t.client.Detach(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "target: detach"))
		}
	}
	if err := t.client.Close(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "target: close"))
	}
	t.abortAll(models.ErrBackendStopped)
	t.stopped = true
	return errs
}

func (t *Target) MemRead(addr, size uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return nil, err
	}
	data, err := t.client.ReadMemory(addr, size)
	return data, errors.Wrap(err, "target")
}

func (t *Target) MemWrite(addr uint64, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idle(); err != nil {
		return err
	}
	return errors.Wrap(t.client.WriteMemory(addr, p), "target")
}

var _ models.Backend = &Target{}
var _ models.MemoryBackend = &Target{}
