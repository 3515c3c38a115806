package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAccess(t *testing.T) {
	a, err := ParseAccess([]string{"read", " Write ", "exec", "typed-address"})
	require.NoError(t, err)
	assert.Equal(t, AccessRead|AccessWrite|AccessExec|AccessTypedAddress, a)
	assert.True(t, a.Has(AccessRead|AccessWrite))
	assert.False(t, a.Has(AccessIO))
	assert.Equal(t, "read,write,execute,typed_address", a.String())
	assert.Equal(t, "none", Access(0).String())

	_, err = ParseAccess([]string{"read", "dma"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestAccessYAML(t *testing.T) {
	out, err := yaml.Marshal(PeripheralRange{Name: "sram", Base: 0x20000000, Size: 0x1000, Access: AccessRead | AccessIO})
	require.NoError(t, err)
	var p PeripheralRange
	require.NoError(t, yaml.Unmarshal(out, &p))
	assert.Equal(t, AccessRead|AccessIO, p.Access)
	assert.Equal(t, uint64(0x20000000), p.Base)
}

func TestPeripheralRange(t *testing.T) {
	p := PeripheralRange{Name: "uart", Base: 0x40013800, Size: 0x400, Access: AccessRead}
	assert.Equal(t, uint64(0x40013c00), p.End())
	assert.True(t, p.Contains(0x40013800))
	assert.False(t, p.Contains(0x40013c00))
	assert.True(t, p.Overlaps(PeripheralRange{Base: 0x40013bff, Size: 1}))
	assert.False(t, p.Overlaps(PeripheralRange{Base: 0x40013c00, Size: 0x100}))
	assert.Equal(t, "uart 0x40013800-0x40013c00 [read]", p.String())
}
