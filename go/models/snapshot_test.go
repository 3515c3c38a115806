package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	s := NewRegisterSnapshot([]string{"r0", "sp", "pc"}, []uint64{1, 0x20004000, 0x08001c28})
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"r0", "sp", "pc"}, s.Names())
	val, ok := s.Get("sp")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x20004000), val)
	_, ok = s.Get("r12")
	assert.False(t, ok)
	assert.Equal(t, "r0=0x1 sp=0x20004000 pc=0x8001c28", s.String())

	o := NewRegisterSnapshot([]string{"r0", "sp", "pc"}, []uint64{1, 0x20004000, 0x08001c28})
	assert.True(t, s.Equal(o))
	o.Regs[0].Val = 2
	assert.False(t, s.Equal(o))
	assert.False(t, s.Equal(nil))
	assert.False(t, s.Equal(NewRegisterSnapshot([]string{"r0"}, []uint64{1})))
}

func TestDiff(t *testing.T) {
	from := NewRegisterSnapshot([]string{"r0", "pc", "xpsr"}, []uint64{1, 0x08001c28, 0x01000000})
	to := NewRegisterSnapshot([]string{"r0", "pc", "cpsr"}, []uint64{1, 0x08001c28, 0x20})
	cs := Diff(from, to, 32)
	assert.Equal(t, 8, cs.Bsz)
	assert.Len(t, cs.Changes, 4)

	changed := cs.Changed()
	assert.Len(t, changed, 2)
	assert.Equal(t, "cpsr", changed[0].Name)
	assert.True(t, changed[0].Missing)
	assert.Equal(t, "xpsr", changed[1].Name)
	assert.False(t, cs.Find("r0").Changed())
	assert.Nil(t, cs.Find("lr"))

	out := cs.String(false)
	assert.Contains(t, out, "+ cpsr 0x00000020")
	assert.Contains(t, out, "   r0 0x00000001")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestChangeMask(t *testing.T) {
	c := &Change{Old: 0x1000, New: 0x1020, Name: "r0"}
	masks := c.Mask(4)
	assert.Equal(t, []ChangeMask{
		{Old: "10", New: "10", Changed: false},
		{Old: "0", New: "2", Changed: true},
		{Old: "0", New: "0", Changed: false},
	}, masks)
}
