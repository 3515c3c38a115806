// Package handoff drives a program from a hardware target into an emulator.
//
// The orchestrator resets the board, runs it to an entry symbol, copies the
// CPU state into the emulator, then times the emulator until an exit symbol.
// It only talks to models.Backend, so the hardware and emulator are swappable.
package handoff

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/forward"
	"github.com/hybricorn/hybricorn/go/models"
	"github.com/hybricorn/hybricorn/go/transfer"
)

type Resetter interface {
	ResetHalt(ctx context.Context) error
}

type Resolver interface {
	Resolve(name string) (uint64, error)
}

type TargetFactory func(ctx context.Context) (models.Backend, error)

// EmulatorFactory builds the emulator with forwarded ranges serviced by remote.
type EmulatorFactory func(ranges forward.Ranges, remote models.Backend) (models.Backend, error)

type Result struct {
	Entry    models.HandoffAddress
	Exit     models.HandoffAddress
	Snapshot *models.RegisterSnapshot
	Memory   []models.MemoryDump
	Elapsed  time.Duration
}

func (r *Result) Seconds() float64 {
	return r.Elapsed.Seconds()
}

// State converts the result into what -savestate persists.
func (r *Result) State(arch *models.Arch) *models.State {
	return &models.State{
		Arch:    arch.Name,
		Entry:   r.Entry,
		Exit:    r.Exit,
		Elapsed: r.Elapsed,
		Regs:    r.Snapshot,
		Memory:  r.Memory,
	}
}

type Orchestrator struct {
	Arch     *models.Arch
	Handoff  models.HandoffConfig
	Ranges   forward.Ranges
	Transfer []models.MemoryRegion

	Reset       Resetter
	Symbols     Resolver
	NewTarget   TargetFactory
	NewEmulator EmulatorFactory

	// OnExit runs after the exit breakpoint, before teardown, with the emulator still alive.
	OnExit func(ctx context.Context, emu models.Backend) error

	Log *zap.Logger
	Now func() time.Time

	state  State
	target models.Backend
	emu    models.Backend
}

func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.Log.Info("transition", zap.Stringer("from", o.state), zap.Stringer("to", to))
	o.state = to
}

func (o *Orchestrator) adjustment() (models.Adjustment, error) {
	if o.Handoff.Adjust == "" {
		return o.Arch.Adjust, nil
	}
	return models.ParseAdjustment(o.Handoff.Adjust)
}

func (o *Orchestrator) resolve(role models.Role, symbol string, fallback bool) (models.HandoffAddress, error) {
	adjust, err := o.adjustment()
	if err != nil {
		return models.HandoffAddress{}, err
	}
	raw, err := o.Symbols.Resolve(symbol)
	if err != nil {
		return models.HandoffAddress{}, errors.Wrapf(err, "resolving %s symbol %q", role, symbol)
	}
	addr := models.NewHandoffAddress(role, symbol, raw, adjust, fallback)
	o.Log.Info("resolved", zap.Stringer("addr", addr))
	return addr, nil
}

// resolveExit tries the exit symbol, then the fallback when the exit symbol does not exist.
func (o *Orchestrator) resolveExit() (models.HandoffAddress, error) {
	if o.Handoff.Exit != "" {
		addr, err := o.resolve(models.RoleExit, o.Handoff.Exit, false)
		if err == nil || o.Handoff.Fallback == "" || !errors.Is(err, models.ErrSymbolNotFound) {
			return addr, err
		}
		o.Log.Warn("exit symbol missing, using fallback",
			zap.String("exit", o.Handoff.Exit), zap.String("fallback", o.Handoff.Fallback))
	}
	if o.Handoff.Fallback == "" {
		return models.HandoffAddress{}, errors.Wrap(models.ErrSymbolNotFound, "no exit symbol configured")
	}
	return o.resolve(models.RoleExit, o.Handoff.Fallback, true)
}

// Resolve looks up both handoff addresses without touching any backend.
func (o *Orchestrator) Resolve() (entry, exit models.HandoffAddress, err error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if entry, err = o.resolve(models.RoleEntry, o.Handoff.Entry, false); err != nil {
		return
	}
	exit, err = o.resolveExit()
	return
}

func phase(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// runTo arms a breakpoint on b, continues, and blocks until it is hit.
func (o *Orchestrator) runTo(ctx context.Context, b models.Backend, addr models.HandoffAddress, timeout time.Duration) error {
	bp, err := b.SetBreakpoint(addr.Addr)
	if err != nil {
		return errors.Wrapf(err, "%s: arming %s", b.Name(), addr)
	}
	if err := b.Continue(); err != nil {
		return errors.Wrapf(err, "%s: continue", b.Name())
	}
	ctx, cancel := phase(ctx, timeout)
	defer cancel()
	return bp.Wait(ctx)
}

// teardown stops the emulator then the target. Both are always attempted.
func (o *Orchestrator) teardown() error {
	var err error
	if o.emu != nil {
		if e := o.emu.Stop(); e != nil {
			o.Log.Error("emulator stop failed", zap.Error(e))
			err = multierr.Append(err, errors.Wrapf(e, "stopping %s", o.emu.Name()))
		}
	}
	if o.target != nil {
		if e := o.target.Stop(); e != nil {
			o.Log.Error("target stop failed", zap.Error(e))
			err = multierr.Append(err, errors.Wrapf(e, "stopping %s", o.target.Name()))
		}
	}
	return err
}

func (o *Orchestrator) fail(err error) error {
	failed := o.state
	o.transition(Teardown)
	terr := o.teardown()
	o.transition(Failed)
	o.Log.Error("handoff failed", zap.Stringer("state", failed), zap.Error(err))
	return &RunError{State: failed, Err: err, Teardown: terr}
}

// Run performs one handoff. An Orchestrator can only be run once.
// The Result is non-nil whenever the exit breakpoint was reached, even if an error follows.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.state != Idle {
		return nil, errors.Errorf("handoff already ran (state %s)", o.state)
	}
	res := &Result{}

	o.transition(Resetting)
	if o.Reset != nil {
		if err := o.Reset.ResetHalt(ctx); err != nil {
			return nil, o.fail(err)
		}
	}

	o.transition(AwaitingEntry)
	entry, err := o.resolve(models.RoleEntry, o.Handoff.Entry, false)
	if err != nil {
		return nil, o.fail(err)
	}
	res.Entry = entry
	if o.target, err = o.NewTarget(ctx); err != nil {
		return nil, o.fail(errors.Wrap(err, "creating target"))
	}
	if o.emu, err = o.NewEmulator(o.Ranges, o.target); err != nil {
		return nil, o.fail(errors.Wrap(err, "creating emulator"))
	}
	if err := o.runTo(ctx, o.target, entry, o.Handoff.EntryTimeout); err != nil {
		return nil, o.fail(err)
	}

	o.transition(Transferring)
	if res.Snapshot, err = o.transferState(); err != nil {
		return nil, o.fail(err)
	}
	if res.Memory, err = o.transferMemory(); err != nil {
		return nil, o.fail(err)
	}

	o.transition(AwaitingExit)
	exit, err := o.resolveExit()
	if err != nil {
		return nil, o.fail(err)
	}
	res.Exit = exit
	start := o.Now()
	if err := o.runTo(ctx, o.emu, exit, o.Handoff.ExitTimeout); err != nil {
		return nil, o.fail(err)
	}

	o.transition(Measuring)
	res.Elapsed = o.Now().Sub(start)
	o.Log.Info("measured", zap.Duration("elapsed", res.Elapsed))
	if o.OnExit != nil {
		// the measurement is already taken, so it is returned with the failure
		if err := o.OnExit(ctx, o.emu); err != nil {
			return res, o.fail(err)
		}
	}

	o.transition(Teardown)
	terr := o.teardown()
	o.transition(Done)
	if terr != nil {
		return res, &TeardownError{Err: terr}
	}
	return res, nil
}

func (o *Orchestrator) transferState() (*models.RegisterSnapshot, error) {
	snap, err := transfer.Capture(o.target, o.Arch)
	if err != nil {
		return nil, err
	}
	o.Log.Debug("captured", zap.Stringer("regs", snap))
	if err := transfer.Apply(o.emu, snap); err != nil {
		return nil, err
	}
	old, val, err := transfer.ReconcileMode(o.emu, o.Arch)
	if err != nil {
		return nil, err
	}
	if o.Arch.Mode.Reg != "" {
		o.Log.Debug("mode reconciled", zap.String("reg", o.Arch.Mode.Reg),
			zap.String("mode", o.Arch.Mode.Desc), zap.Uint64("old", old), zap.Uint64("new", val))
	}
	if ce := o.Log.Check(zap.DebugLevel, "register diff"); ce != nil {
		after, err := transfer.Capture(o.emu, o.Arch)
		if err == nil {
			ce.Write(zap.String("diff", "\n"+models.Diff(snap, after, o.Arch.Bits).String(false)))
		}
	}
	return snap, nil
}

func (o *Orchestrator) transferMemory() ([]models.MemoryDump, error) {
	if len(o.Transfer) == 0 {
		return nil, nil
	}
	src, ok := o.target.(models.MemoryBackend)
	if !ok {
		return nil, errors.Errorf("%s cannot read memory", o.target.Name())
	}
	dst, ok := o.emu.(models.MemoryBackend)
	if !ok {
		return nil, errors.Errorf("%s cannot write memory", o.emu.Name())
	}
	dumps, err := transfer.CaptureMemory(src, o.Transfer)
	if err != nil {
		return nil, err
	}
	if err := transfer.ApplyMemory(dst, dumps); err != nil {
		return nil, err
	}
	for _, d := range dumps {
		o.Log.Info("memory transferred", zap.String("region", d.Name),
			zap.Uint64("addr", d.Addr), zap.Int("size", len(d.Data)))
	}
	return dumps, nil
}
