package unicorn

import (
	"encoding/hex"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/cpu"
	"github.com/hybricorn/hybricorn/go/models"
)

// hookForwarding routes accesses in forwarded ranges to the remote memory.
// Reads refresh local memory from the remote before the load executes,
// writes are pushed through after the store is seen.
// Only read and write are acted on: instruction fetches, including from ranges
// declaring execute, io or the typed capabilities, are served from local memory.
func (e *Emulator) hookForwarding() error {
	for _, r := range e.ranges {
		r := r
		if r.Access.Has(models.AccessRead) {
			_, err := e.u.HookAdd(uc.HOOK_MEM_READ, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
				data, err := e.remote.MemRead(addr, uint64(size))
				if err == nil {
					err = mu.MemWrite(addr, data)
				}
				if err != nil {
					e.forwardFailed(mu, errors.Wrapf(err, "forwarded read %s %#x", r.Name, addr))
					return
				}
				e.Log.Debug("fwd read", zap.String("range", r.Name), zap.Uint64("addr", addr), zap.String("data", hex.EncodeToString(data)))
			}, r.Base, r.End()-1)
			if err != nil {
				return errors.Wrapf(err, "read hook for %s", r.Name)
			}
		}
		if r.Access.Has(models.AccessWrite) {
			_, err := e.u.HookAdd(uc.HOOK_MEM_WRITE, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
				data := make([]byte, size)
				for i := range data {
					data[i] = byte(uint64(value) >> (8 * uint(i)))
				}
				if err := e.remote.MemWrite(addr, data); err != nil {
					e.forwardFailed(mu, errors.Wrapf(err, "forwarded write %s %#x", r.Name, addr))
					return
				}
				e.Log.Debug("fwd write", zap.String("range", r.Name), zap.Uint64("addr", addr), zap.String("data", hex.EncodeToString(data)))
			}, r.Base, r.End()-1)
			if err != nil {
				return errors.Wrapf(err, "write hook for %s", r.Name)
			}
		}
	}
	return nil
}

// forwardFailed runs on the emulation goroutine; run() reports the error once Start returns.
func (e *Emulator) forwardFailed(mu uc.Unicorn, err error) {
	e.mu.Lock()
	if e.fwdErr == nil {
		e.fwdErr = err
	}
	e.mu.Unlock()
	mu.Stop()
}

func (e *Emulator) trace(mu uc.Unicorn, addr uint64, size uint32) {
	mem, err := mu.MemRead(addr, uint64(size))
	if err != nil {
		return
	}
	ins, err := e.dis.Dis(mem, addr)
	if err != nil || len(ins) == 0 {
		e.Log.Info("trace", zap.Uint64("pc", addr), zap.String("bytes", hex.EncodeToString(mem)))
		return
	}
	e.Log.Info("trace", zap.String("ins", cpu.Format(ins)))
}
