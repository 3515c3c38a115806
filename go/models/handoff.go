package models

import (
	"fmt"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleEntry Role = "entry"
	RoleExit  Role = "exit"
)

// Adjustment is a named correction applied to every address read from a symbol table.
type Adjustment string

const (
	AdjustNone Adjustment = "none"
	// AdjustThumb clears the interworking bit the toolchain records in Thumb
	// function symbols, so 0x08001c29 becomes the first instruction at 0x08001c28.
	AdjustThumb Adjustment = "thumb"
)

func ParseAdjustment(s string) (Adjustment, error) {
	switch Adjustment(s) {
	case "", AdjustNone:
		return AdjustNone, nil
	case AdjustThumb:
		return AdjustThumb, nil
	}
	return "", errors.Wrapf(ErrInvalidConfig, "unknown address adjustment %q", s)
}

func (a Adjustment) Apply(addr uint64) uint64 {
	switch a {
	case AdjustThumb:
		return addr &^ 1
	}
	return addr
}

// HandoffAddress is a resolved breakpoint location. It is never modified once built.
type HandoffAddress struct {
	Symbol   string
	Raw      uint64
	Addr     uint64
	Role     Role
	Adjust   Adjustment
	Fallback bool
}

func NewHandoffAddress(role Role, symbol string, raw uint64, adjust Adjustment, fallback bool) HandoffAddress {
	return HandoffAddress{
		Symbol:   symbol,
		Raw:      raw,
		Addr:     adjust.Apply(raw),
		Role:     role,
		Adjust:   adjust,
		Fallback: fallback,
	}
}

func (h HandoffAddress) String() string {
	s := fmt.Sprintf("%s %s = %#x", h.Role, h.Symbol, h.Addr)
	if h.Raw != h.Addr {
		s += fmt.Sprintf(" (recorded %#x, %s adjust)", h.Raw, h.Adjust)
	}
	if h.Fallback {
		s += " [fallback]"
	}
	return s
}
