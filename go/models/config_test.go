package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigValid(t *testing.T) {
	c := DefaultConfig()
	c.Binary = "firmware.elf"
	assert.NoError(t, c.Validate())
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	c.Handoff.Adjust = "arm64"
	c.Emulator.Memory = append(c.Emulator.Memory, MemoryRegion{Name: "alias", Addr: 0x08000100, Size: 0x100, Prot: "rq"})
	err := c.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	for _, msg := range []string{"binary is required", "arm64", "overlaps rom", "bad permissions"} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestMemoryRegionProt(t *testing.T) {
	tests := []struct {
		prot string
		want int
	}{
		{"", PROT_ALL},
		{"r", PROT_READ},
		{"rw", PROT_READ | PROT_WRITE},
		{"r-x", PROT_READ | PROT_EXEC},
	}
	for _, tt := range tests {
		got, err := MemoryRegion{Prot: tt.prot}.ProtBits()
		require.NoError(t, err, tt.prot)
		assert.Equal(t, tt.want, got, tt.prot)
	}
	r := MemoryRegion{Addr: 0x20000000, Size: 0x1000}
	assert.True(t, r.Contains(0x20000fff))
	assert.False(t, r.Contains(0x20001000))
}

func TestConfigYAML(t *testing.T) {
	doc := `
binary: build/firmware.elf
handoff:
  entry: main
  exit: _Z7timeoutv
  entry_timeout: 2s
forward:
  - name: peripherals
    address: 0x40000000
    size: 0x10000000
    access: [read, write, concrete_value]
`
	c := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(doc), c))
	assert.Equal(t, "build/firmware.elf", c.Binary)
	assert.Equal(t, "localhost:3333", c.Target.Gdb, "defaults survive a partial file")
	assert.Equal(t, "2s", c.Handoff.EntryTimeout.String())
	require.Len(t, c.Forward, 1)
	assert.Equal(t, uint64(0x40000000), c.Forward[0].Base)
	assert.Equal(t, AccessRead|AccessWrite|AccessTypedValue, c.Forward[0].Access)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/etc/fw/a.elf", ResolvePath("/etc/fw", "a.elf"))
	assert.Equal(t, "/abs.elf", ResolvePath("/etc/fw", "/abs.elf"))
	assert.Equal(t, "a.elf", ResolvePath("", "a.elf"))
	assert.Equal(t, "", ResolvePath("/etc", ""))
}
