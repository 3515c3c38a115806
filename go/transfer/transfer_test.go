package transfer

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybricorn/hybricorn/go/arch/arm"
	"github.com/hybricorn/hybricorn/go/models"
	"github.com/hybricorn/hybricorn/go/models/mock"
)

func newPair() (*mock.Backend, *mock.Backend) {
	src := mock.NewBackend("target", arm.CortexM, nil)
	dst := mock.NewBackend("emu", arm.CortexM, nil)
	for i, name := range arm.CortexM.Regs {
		src.Regs[name] = uint64(0x1000 + i)
	}
	src.Regs["pc"] = 0x08001c28
	src.Regs["sp"] = 0x20004000
	src.Regs["xpsr"] = 0x01000000
	return src, dst
}

func TestRoundTrip(t *testing.T) {
	src, dst := newPair()
	snap, err := Capture(src, arm.CortexM)
	require.NoError(t, err)
	assert.Equal(t, arm.CortexM.Regs, snap.Names())

	require.NoError(t, Apply(dst, snap))
	assert.Equal(t, arm.CortexM.Regs, dst.Writes, "apply writes in canonical order")

	again, err := Capture(dst, arm.CortexM)
	require.NoError(t, err)
	assert.True(t, snap.Equal(again))
}

func TestCaptureAtomic(t *testing.T) {
	src, dst := newPair()
	src.ReadErr["lr"] = errors.New("probe timeout")
	snap, err := Capture(src, arm.CortexM)
	assert.Nil(t, snap)
	assert.True(t, errors.Is(err, models.ErrPartialStateRead))
	assert.Contains(t, err.Error(), "lr")

	_, err = Transfer(src, dst, arm.CortexM)
	assert.True(t, errors.Is(err, models.ErrPartialStateRead))
	assert.Empty(t, dst.Writes, "nothing is written after a failed capture")
}

func TestCaptureUnknownRegister(t *testing.T) {
	src := mock.NewBackend("target", &models.Arch{Name: "x", Bits: 32, Regs: []string{"r0"}}, nil)
	arch := &models.Arch{Name: "y", Bits: 32, Regs: []string{"r0", "q9"}}
	_, err := Capture(src, arch)
	assert.True(t, errors.Is(err, models.ErrPartialStateRead))
	assert.Contains(t, err.Error(), "unknown register")
}

func TestReconcileMode(t *testing.T) {
	dst := mock.NewBackend("emu", arm.CortexM, nil)
	dst.Regs["cpsr"] = 0x600001d3
	old, val, err := ReconcileMode(dst, arm.CortexM)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x600001d3), old)
	assert.Equal(t, uint64(0x600001f3), val)
	assert.Equal(t, val, dst.Regs["cpsr"])

	// exactly one bit, idempotent
	_, again, err := ReconcileMode(dst, arm.CortexM)
	require.NoError(t, err)
	assert.Equal(t, val, again)

	dst.WriteErr["cpsr"] = errors.New("read-only")
	_, _, err = ReconcileMode(dst, arm.CortexM)
	assert.Error(t, err)

	none := &models.Arch{Name: "flat", Bits: 32}
	_, _, err = ReconcileMode(dst, none)
	assert.NoError(t, err)
}

func TestTransfer(t *testing.T) {
	src, dst := newPair()
	snap, err := Transfer(src, dst, arm.CortexM)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x08001c28), dst.Regs["pc"])
	assert.Equal(t, uint64(0x20004000), dst.Regs["sp"])
	assert.Equal(t, uint64(arm.ThumbBit), dst.Regs["cpsr"]&arm.ThumbBit)
	pc, _ := snap.Get("pc")
	assert.Equal(t, uint64(0x08001c28), pc)
}

func TestMemory(t *testing.T) {
	src, dst := newPair()
	require.NoError(t, src.MemWrite(0x20000000, []byte{1, 2, 3, 4}))
	regions := []models.MemoryRegion{{Name: "sram", Addr: 0x20000000, Size: 4}}

	dumps, err := CaptureMemory(src, regions)
	require.NoError(t, err)
	require.NoError(t, ApplyMemory(dst, dumps))
	got, err := dst.MemRead(0x20000000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	src.MemErr = errors.New("bus fault")
	dumps, err = CaptureMemory(src, regions)
	assert.Nil(t, dumps)
	assert.True(t, errors.Is(err, models.ErrPartialStateRead))
}
