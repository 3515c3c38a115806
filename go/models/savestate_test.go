package models

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadState(t *testing.T) {
	st := &State{
		Arch:    "cortex-m3",
		Entry:   NewHandoffAddress(RoleEntry, "main", 0x08001c29, AdjustThumb, false),
		Exit:    NewHandoffAddress(RoleExit, "_Z7timeoutv", 0x08001c45, AdjustThumb, false),
		Elapsed: 1500 * time.Microsecond,
		Regs:    NewRegisterSnapshot([]string{"r0", "sp", "pc"}, []uint64{7, 0x20004000, 0x08001c28}),
		Memory: []MemoryDump{
			{Name: "sram", Addr: 0x20000000, Data: bytes.Repeat([]byte{0xaa, 0x55}, 512)},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, SaveState(&buf, st))

	got, err := LoadState(&buf)
	require.NoError(t, err)
	assert.Equal(t, "cortex-m3", got.Arch)
	assert.Equal(t, st.Elapsed, got.Elapsed)
	assert.Equal(t, "main", got.Entry.Symbol)
	assert.Equal(t, uint64(0x08001c28), got.Entry.Addr)
	assert.Equal(t, uint64(0x08001c44), got.Exit.Addr)
	assert.True(t, st.Regs.Equal(got.Regs))
	require.Len(t, got.Memory, 1)
	assert.Equal(t, st.Memory[0], got.Memory[0])
}

func TestLoadStateCorrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SaveState(&buf, &State{Arch: "cortex-m3", Regs: &RegisterSnapshot{}}))
	data := buf.Bytes()

	bad := append([]byte(nil), data...)
	copy(bad, "ELF\x7f")
	_, err := LoadState(bytes.NewReader(bad))
	assert.True(t, errors.Is(err, StateMagicErr))

	bad = append([]byte(nil), data...)
	bad[len(bad)-1] ^= 0xff
	_, err = LoadState(bytes.NewReader(bad))
	assert.True(t, errors.Is(err, StateChecksumErr))
}
