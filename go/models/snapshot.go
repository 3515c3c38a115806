package models

import (
	"fmt"
	"strings"
)

type RegVal struct {
	Name string
	Val  uint64
}

// RegisterSnapshot is an ordered capture of a register file.
type RegisterSnapshot struct {
	Regs []RegVal
}

func NewRegisterSnapshot(names []string, vals []uint64) *RegisterSnapshot {
	s := &RegisterSnapshot{Regs: make([]RegVal, len(names))}
	for i, name := range names {
		s.Regs[i] = RegVal{Name: name, Val: vals[i]}
	}
	return s
}

func (s *RegisterSnapshot) Len() int {
	return len(s.Regs)
}

func (s *RegisterSnapshot) Names() []string {
	ret := make([]string, len(s.Regs))
	for i, r := range s.Regs {
		ret[i] = r.Name
	}
	return ret
}

func (s *RegisterSnapshot) Get(name string) (uint64, bool) {
	for _, r := range s.Regs {
		if r.Name == name {
			return r.Val, true
		}
	}
	return 0, false
}

// Equal compares names, order and values.
func (s *RegisterSnapshot) Equal(o *RegisterSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.Regs) != len(o.Regs) {
		return false
	}
	for i := range s.Regs {
		if s.Regs[i] != o.Regs[i] {
			return false
		}
	}
	return true
}

func (s *RegisterSnapshot) String() string {
	out := make([]string, len(s.Regs))
	for i, r := range s.Regs {
		out[i] = fmt.Sprintf("%s=%#x", r.Name, r.Val)
	}
	return strings.Join(out, " ")
}
