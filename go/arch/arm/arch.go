package arm

import (
	cs "github.com/lunixbochs/capstr"
	ks "github.com/keystone-engine/keystone/bindings/go/keystone"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/hybricorn/hybricorn/go/models"
)

// transfer order: general purpose, then sp, lr, pc, then the program status
var regNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12",
	"sp", "lr", "pc", "xpsr",
}

// CPSR.T, the bit unicorn's ARM_REG_CPSR write path reads the execution state from.
// The architectural xPSR.T is bit 24 and is not what unicorn checks.
const ThumbBit = 1 << 5

// CortexM is a Thumb-only M-profile core as exposed by OpenOCD's armv7m gdbserver.
var CortexM = &models.Arch{
	Name: "cortex-m",
	Bits: 32,
	Regs: regNames,
	PC:   "pc",
	SP:   "sp",
	Mode: models.ModeFix{
		Reg:  "cpsr",
		Bit:  ThumbBit,
		Desc: "thumb",
	},
	Adjust: models.AdjustThumb,

	UC_ARCH: uc.ARCH_ARM,
	UC_MODE: uc.MODE_THUMB | uc.MODE_MCLASS,
	UcRegs: map[string]int{
		"r0":   uc.ARM_REG_R0,
		"r1":   uc.ARM_REG_R1,
		"r2":   uc.ARM_REG_R2,
		"r3":   uc.ARM_REG_R3,
		"r4":   uc.ARM_REG_R4,
		"r5":   uc.ARM_REG_R5,
		"r6":   uc.ARM_REG_R6,
		"r7":   uc.ARM_REG_R7,
		"r8":   uc.ARM_REG_R8,
		"r9":   uc.ARM_REG_R9,
		"r10":  uc.ARM_REG_R10,
		"r11":  uc.ARM_REG_R11,
		"r12":  uc.ARM_REG_R12,
		"sp":   uc.ARM_REG_SP,
		"lr":   uc.ARM_REG_LR,
		"pc":   uc.ARM_REG_PC,
		"xpsr": uc.ARM_REG_XPSR,
		"cpsr": uc.ARM_REG_CPSR,
	},

	// OpenOCD armv7m target description numbering
	GdbRegs: map[string]int{
		"r0": 0, "r1": 1, "r2": 2, "r3": 3,
		"r4": 4, "r5": 5, "r6": 6, "r7": 7,
		"r8": 8, "r9": 9, "r10": 10, "r11": 11,
		"r12": 12, "sp": 13, "lr": 14, "pc": 15,
		"xpsr": 16,
		"cpsr": 16,
	},
	// Z1 kind 2: 16-bit Thumb breakpoint
	BpKind: 2,

	CS_ARCH: cs.ARCH_ARM,
	CS_MODE: cs.MODE_THUMB,
	KS_ARCH: int(ks.ARCH_ARM),
	KS_MODE: int(ks.MODE_THUMB),
}

// Variant returns CortexM renamed for a specific core, e.g. "cortex-m3".
func Variant(name string) *models.Arch {
	a := *CortexM
	a.Name = name
	return &a
}
