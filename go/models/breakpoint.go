package models

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Breakpoint is the awaitable handle returned by Backend.SetBreakpoint.
// A hit is a one-shot event: the owner fires it once, the orchestrator waits on it once.
type Breakpoint struct {
	Addr  uint64
	Owner string

	hit   chan struct{}
	abort chan struct{}
	fire  sync.Once
	stop  sync.Once
	err   error

	waited int32
}

func NewBreakpoint(owner string, addr uint64) *Breakpoint {
	return &Breakpoint{
		Addr:  addr,
		Owner: owner,
		hit:   make(chan struct{}),
		abort: make(chan struct{}),
	}
}

// Fire marks the breakpoint as hit. Only the first call on an armed
// breakpoint has an effect and returns true.
func (b *Breakpoint) Fire() bool {
	select {
	case <-b.abort:
		return false
	default:
	}
	fired := false
	b.fire.Do(func() {
		close(b.hit)
		fired = true
	})
	return fired
}

// Abort invalidates the breakpoint, waking any Wait with err.
// Owners call it when they stop or their execution fails.
func (b *Breakpoint) Abort(err error) {
	if err == nil {
		err = ErrBackendStopped
	}
	b.stop.Do(func() {
		b.err = err
		close(b.abort)
	})
}

func (b *Breakpoint) Hit() bool {
	select {
	case <-b.hit:
		return true
	default:
		return false
	}
}

// Done is closed when the breakpoint is hit. Unlike Wait it does not consume the handle.
func (b *Breakpoint) Done() <-chan struct{} {
	return b.hit
}

// Aborted is closed when the owner invalidates the breakpoint.
func (b *Breakpoint) Aborted() <-chan struct{} {
	return b.abort
}

// Armed reports whether the breakpoint can still fire.
func (b *Breakpoint) Armed() bool {
	if b.Hit() {
		return false
	}
	select {
	case <-b.abort:
		return false
	default:
		return true
	}
}

// Wait blocks until the breakpoint is hit, the owner aborts it, or ctx is done.
// It has no timeout of its own. A second call fails with ErrBreakpointConsumed.
// A hit that happened before an abort is still delivered.
func (b *Breakpoint) Wait(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.waited, 0, 1) {
		return errors.Wrapf(ErrBreakpointConsumed, "%s breakpoint at %#x", b.Owner, b.Addr)
	}
	if b.Hit() {
		return nil
	}
	select {
	case <-b.hit:
		return nil
	case <-b.abort:
		if b.Hit() {
			return nil
		}
		return errors.Wrapf(b.err, "%s breakpoint at %#x", b.Owner, b.Addr)
	case <-ctx.Done():
		return errors.Wrapf(ErrHandoffTimeout, "waiting for %s breakpoint at %#x: %v", b.Owner, b.Addr, ctx.Err())
	}
}
