package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexDump(t *testing.T) {
	mem := []byte("ABCDEFGH\x00\x01")
	lines := HexDump(0x20000000, mem, 32)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "0x20000000: 41424344 45464748 0001    "), lines[0])
	assert.Contains(t, lines[0], "[ABCD EFGH ..  ")

	lines = HexDump(0x20000000, make([]byte, 45), 32)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "0x20000028: "))
}

func TestDemangleNotMangled(t *testing.T) {
	assert.Equal(t, "main", Demangle("main"))
	assert.Equal(t, "__libc_fini_array", Demangle("__libc_fini_array"))
}
