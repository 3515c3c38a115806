package unicorn

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybricorn/hybricorn/go/arch/arm"
	"github.com/hybricorn/hybricorn/go/forward"
	"github.com/hybricorn/hybricorn/go/models"
	"github.com/hybricorn/hybricorn/go/models/mock"
)

const flash = 0x08000000

var memory = []models.MemoryRegion{
	{Name: "rom", Addr: flash, Size: 0x10000, Prot: "rwx"},
	{Name: "sram", Addr: 0x20000000, Size: 0x10000, Prot: "rw"},
}

func newEmu(t *testing.T, cfg Config, code []byte) *Emulator {
	cfg.Arch = arm.CortexM
	if cfg.Memory == nil {
		cfg.Memory = memory
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Stop() })
	require.NoError(t, e.MemWrite(flash, code))
	require.NoError(t, e.RegWrite("pc", flash))
	require.NoError(t, e.RegWrite("sp", 0x20004000))
	return e
}

func wait(t *testing.T, bp *models.Breakpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return bp.Wait(ctx)
}

func TestRunToBreakpoint(t *testing.T) {
	code := []byte{
		0x01, 0x20, // movs r0, #1
		0x01, 0x30, // adds r0, #1
		0xfe, 0xe7, // b .
	}
	e := newEmu(t, Config{}, code)
	bp, err := e.SetBreakpoint(flash + 4)
	require.NoError(t, err)
	require.NoError(t, e.Continue())
	require.NoError(t, wait(t, bp))

	r0, err := e.RegRead("r0")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r0)
	pc, err := e.RegRead("pc")
	require.NoError(t, err)
	assert.Equal(t, uint64(flash+4), pc)
}

func TestRegisters(t *testing.T) {
	e := newEmu(t, Config{}, []byte{0xfe, 0xe7})
	require.NoError(t, e.RegWrite("r12", 0x12345678))
	val, err := e.RegRead("r12")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x12345678), val)

	_, err = e.RegRead("rip")
	assert.True(t, errors.Is(err, models.ErrUnknownRegister))
	assert.True(t, errors.Is(e.RegWrite("x0", 0), models.ErrUnknownRegister))
}

func TestBreakpointOutOfRange(t *testing.T) {
	e := newEmu(t, Config{}, []byte{0xfe, 0xe7})
	_, err := e.SetBreakpoint(0x60000000)
	assert.True(t, errors.Is(err, models.ErrAddressOutOfRange))
}

func TestForwarding(t *testing.T) {
	remote := mock.NewBackend("board", arm.CortexM, nil)
	require.NoError(t, remote.MemWrite(0x40020000, []byte{0xef, 0xbe, 0xad, 0xde}))
	ranges, err := forward.Build(models.PeripheralRange{
		Name: "gpio", Base: 0x40020000, Size: 0x400, Access: models.AccessRead | models.AccessWrite,
	})
	require.NoError(t, err)

	code := []byte{
		0x01, 0x68, // ldr r1, [r0]
		0x41, 0x60, // str r1, [r0, #4]
		0xfe, 0xe7, // b .
	}
	e := newEmu(t, Config{Ranges: ranges, Remote: remote}, code)
	require.NoError(t, e.RegWrite("r0", 0x40020000))
	bp, err := e.SetBreakpoint(flash + 4)
	require.NoError(t, err)
	require.NoError(t, e.Continue())
	require.NoError(t, wait(t, bp))

	r1, err := e.RegRead("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), r1, "load is serviced by the remote")
	got, err := remote.MemRead(0x40020004, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, got, "store reaches the remote")
}

func TestForwardingFailure(t *testing.T) {
	remote := mock.NewBackend("board", arm.CortexM, nil)
	remote.MemErr = errors.New("probe disconnected")
	ranges, err := forward.Build(models.PeripheralRange{
		Name: "gpio", Base: 0x40020000, Size: 0x400, Access: models.AccessRead,
	})
	require.NoError(t, err)
	e := newEmu(t, Config{Ranges: ranges, Remote: remote}, []byte{0x01, 0x68, 0xfe, 0xe7})
	require.NoError(t, e.RegWrite("r0", 0x40020000))
	bp, err := e.SetBreakpoint(flash + 2)
	require.NoError(t, err)
	require.NoError(t, e.Continue())
	err = wait(t, bp)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "probe disconnected")
}

func TestStop(t *testing.T) {
	e := newEmu(t, Config{}, []byte{0xfe, 0xe7})
	bp, err := e.SetBreakpoint(flash + 0x100)
	require.NoError(t, err)
	require.NoError(t, e.Continue())

	_, err = e.RegRead("pc")
	assert.True(t, errors.Is(err, ErrRunning))

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.True(t, errors.Is(wait(t, bp), models.ErrBackendStopped))
	_, err = e.RegRead("pc")
	assert.True(t, errors.Is(err, models.ErrBackendStopped))
}

func TestFileBackedRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sram_after_init.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0644))
	mem := append([]models.MemoryRegion{}, memory...)
	mem[1].File = path
	e := newEmu(t, Config{Memory: mem}, []byte{0xfe, 0xe7})
	got, err := e.MemRead(0x20000000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestPartialOverlap(t *testing.T) {
	ranges, err := forward.Build(models.PeripheralRange{
		Name: "straddle", Base: 0x2000f000, Size: 0x2000, Access: models.AccessRead,
	})
	require.NoError(t, err)
	_, err = New(Config{Arch: arm.CortexM, Memory: memory, Ranges: ranges})
	assert.True(t, errors.Is(err, models.ErrBackendInit))
}

func TestIdleAfterBreakpoint(t *testing.T) {
	code := []byte{
		0x01, 0x20, // movs r0, #1
		0x01, 0x30, // adds r0, #1
		0xfe, 0xe7, // b .
	}
	e := newEmu(t, Config{}, code)
	for i := 0; i < 300; i++ {
		require.NoError(t, e.RegWrite("pc", flash))
		bp, err := e.SetBreakpoint(flash + 4)
		require.NoError(t, err)
		require.NoError(t, e.Continue())
		require.NoError(t, wait(t, bp))

		// the emulator is idle as soon as the hit is delivered
		r0, err := e.RegRead("r0")
		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, uint64(2), r0)
	}
}

func TestForwardingIgnoresFetchCapabilities(t *testing.T) {
	remote := mock.NewBackend("board", arm.CortexM, nil)
	require.NoError(t, remote.MemWrite(0x40020000, []byte{0xef, 0xbe, 0xad, 0xde}))
	ranges, err := forward.Build(models.PeripheralRange{
		Name: "gpio", Base: 0x40020000, Size: 0x400, Access: models.AccessExec | models.AccessIO,
	})
	require.NoError(t, err)

	e := newEmu(t, Config{Ranges: ranges, Remote: remote}, []byte{0x01, 0x68, 0xfe, 0xe7})
	require.NoError(t, e.RegWrite("r0", 0x40020000))
	bp, err := e.SetBreakpoint(flash + 2)
	require.NoError(t, err)
	require.NoError(t, e.Continue())
	require.NoError(t, wait(t, bp))

	r1, err := e.RegRead("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r1, "without read the load is served locally")
}
