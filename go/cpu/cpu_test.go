package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybricorn/hybricorn/go/arch/arm"
)

func TestKeystoneThumb(t *testing.T) {
	k := NewKeystone(arm.CortexM)
	defer k.Close()
	code, err := k.Asm("movs r0, #1; adds r0, #1", 0x08000000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x20, 0x01, 0x30}, code)
}

func TestCapstrThumb(t *testing.T) {
	c := &Capstr{Arch: arm.CortexM.CS_ARCH, Mode: arm.CortexM.CS_MODE}
	ins, err := c.Dis([]byte{0x01, 0x20, 0xfe, 0xe7}, 0x08000000)
	require.NoError(t, err)
	require.Len(t, ins, 2)
	assert.Equal(t, uint64(0x08000000), ins[0].Addr())
	assert.Equal(t, "movs", ins[0].Mnemonic())
	assert.Equal(t, "b", ins[1].Mnemonic())
	assert.Contains(t, Format(ins), "0x8000002: fee7 b")

	// cached
	again, err := c.Dis([]byte{0x01, 0x20, 0xfe, 0xe7}, 0x08000000)
	require.NoError(t, err)
	assert.Equal(t, ins, again)
}
