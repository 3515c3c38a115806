package arm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCortexMVocabulary(t *testing.T) {
	assert.Len(t, CortexM.Regs, 17)
	for _, name := range CortexM.Regs {
		_, ok := CortexM.UcRegs[name]
		assert.True(t, ok, "unicorn is missing %s", name)
		_, ok = CortexM.GdbRegs[name]
		assert.True(t, ok, "gdb is missing %s", name)
	}
	assert.True(t, CortexM.Known("cpsr"))
	assert.False(t, CortexM.Known("x0"))
	assert.Equal(t, uint64(0xffffffff), CortexM.AddrMax())
}

func TestCortexMModeFix(t *testing.T) {
	assert.Equal(t, uint64(0x01000020), CortexM.Mode.Apply(0x01000000))
	assert.Equal(t, uint64(0x20), CortexM.Mode.Apply(0x20))
	assert.Equal(t, uint64(0x08001c28), CortexM.Adjust.Apply(0x08001c29))
}

func TestVariant(t *testing.T) {
	m3 := Variant("cortex-m3")
	assert.Equal(t, "cortex-m3", m3.Name)
	assert.Equal(t, "cortex-m", CortexM.Name)
	assert.Equal(t, CortexM.Regs, m3.Regs)
}

func TestThumbBit(t *testing.T) {
	assert.Equal(t, uint64(0x20), uint64(ThumbBit))
	assert.Equal(t, "cpsr", CortexM.Mode.Reg)
	assert.Equal(t, uint64(0x600001f3), CortexM.Mode.Apply(0x600001d3))
	// xPSR.T (bit 24) is left alone
	assert.Zero(t, CortexM.Mode.Apply(0)&(1<<24))
}
