package models

import (
	"fmt"
)

// ModeFix describes how an implicit processor mode on the source backend is made
// explicit on the destination: Bit is OR'd into the Reg flags register.
type ModeFix struct {
	Reg  string
	Bit  uint64
	Desc string
}

func (m ModeFix) Apply(val uint64) uint64 {
	return val | m.Bit
}

type Arch struct {
	Name string
	Bits int

	// Canonical transfer vocabulary, in capture/apply order.
	Regs []string
	PC   string
	SP   string
	// Mode is applied after a transfer. Mode.Reg does not need to be in Regs.
	Mode ModeFix
	// Adjust corrects addresses read from the symbol table.
	Adjust Adjustment

	// unicorn
	UC_ARCH int
	UC_MODE int
	UcRegs  map[string]int

	// gdb remote register numbers and Z packet kind
	GdbRegs map[string]int
	BpKind  int

	// capstone / keystone
	CS_ARCH int
	CS_MODE int
	KS_ARCH int
	KS_MODE int
}

// AddrMax is the highest address a breakpoint can be armed at.
func (a *Arch) AddrMax() uint64 {
	return ^uint64(0) >> (64 - uint(a.Bits))
}

// Mask truncates a register value to the architecture width.
func (a *Arch) Mask(val uint64) uint64 {
	return val & a.AddrMax()
}

// Known reports whether name is part of the transfer vocabulary or the mode register.
func (a *Arch) Known(name string) bool {
	if name == a.Mode.Reg {
		return true
	}
	for _, r := range a.Regs {
		if r == name {
			return true
		}
	}
	return false
}

func (a *Arch) String() string {
	return fmt.Sprintf("<Arch %s>", a.Name)
}
