package models

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// these match unicorn's protection enums
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// MemoryRegion is an emulator mapping, optionally backed by a file.
// Transfer regions reuse it to name RAM copied from the target at handoff.
type MemoryRegion struct {
	Name string `yaml:"name"`
	Addr uint64 `yaml:"address"`
	Size uint64 `yaml:"size"`
	Prot string `yaml:"permissions"`
	File string `yaml:"file"`
}

func (m MemoryRegion) End() uint64 {
	return m.Addr + m.Size
}

func (m MemoryRegion) Contains(addr uint64) bool {
	return addr >= m.Addr && addr-m.Addr < m.Size
}

// ProtBits parses an "rwx" style permission string. Empty means rwx.
func (m MemoryRegion) ProtBits() (int, error) {
	if m.Prot == "" {
		return PROT_ALL, nil
	}
	prot := PROT_NONE
	for _, c := range m.Prot {
		switch c {
		case 'r':
			prot |= PROT_READ
		case 'w':
			prot |= PROT_WRITE
		case 'x':
			prot |= PROT_EXEC
		case '-':
		default:
			return 0, errors.Wrapf(ErrInvalidConfig, "region %s: bad permissions %q", m.Name, m.Prot)
		}
	}
	return prot, nil
}

type TargetConfig struct {
	// gdbserver exported by the probe
	Gdb string `yaml:"gdb"`
	// OpenOCD telnet console used for "reset halt"
	Telnet string `yaml:"telnet"`
	// if set, OpenOCD is started with OpenOCDConfig before reset
	OpenOCD       string        `yaml:"openocd"`
	OpenOCDConfig string        `yaml:"openocd_config"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	MaxPacket     int           `yaml:"max_packet"`
}

type EmulatorConfig struct {
	CPU    string         `yaml:"cpu"`
	Memory []MemoryRegion `yaml:"memory"`
	Trace  bool           `yaml:"trace"`
}

type HandoffConfig struct {
	Entry        string        `yaml:"entry"`
	Exit         string        `yaml:"exit"`
	Fallback     string        `yaml:"fallback"`
	Adjust       string        `yaml:"adjust"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	ExitTimeout  time.Duration `yaml:"exit_timeout"`
}

type Config struct {
	// ELF with the symbols used for the handoff addresses
	Binary string `yaml:"binary"`
	Arch   string `yaml:"arch"`

	Target   TargetConfig      `yaml:"target"`
	Emulator EmulatorConfig    `yaml:"emulator"`
	Handoff  HandoffConfig     `yaml:"handoff"`
	Forward  []PeripheralRange `yaml:"forward"`
	Transfer []MemoryRegion    `yaml:"transfer"`

	SaveState string `yaml:"savestate"`
	Verbose   bool   `yaml:"verbose"`

	Output io.WriteCloser `yaml:"-"`
}

// DefaultConfig is the Nucleo-L152RE setup: OpenOCD on localhost, flash at
// 0x08000000, SRAM at 0x20000000, handoff from main() to timeout().
func DefaultConfig() *Config {
	return &Config{
		Arch: "cortex-m3",
		Target: TargetConfig{
			Gdb:           "localhost:3333",
			Telnet:        "localhost:4444",
			OpenOCDConfig: "nucleo-l152re.cfg",
			DialTimeout:   5 * time.Second,
			MaxPacket:     1024,
		},
		Emulator: EmulatorConfig{
			CPU: "cortex-m3",
			Memory: []MemoryRegion{
				{Name: "rom", Addr: 0x08000000, Size: 0x1000000, Prot: "rwx"},
				{Name: "sram", Addr: 0x20000000, Size: 0x100000, Prot: "rw"},
			},
		},
		Handoff: HandoffConfig{
			Entry:    "main",
			Exit:     "_Z7timeoutv",
			Fallback: "__libc_fini_array",
			Adjust:   string(AdjustThumb),
		},
		Output: os.Stderr,
	}
}

// Validate checks everything that can be checked before touching hardware.
// Forwarded ranges are validated by forward.Build.
func (c *Config) Validate() error {
	var problems []string
	bad := func(msg string) {
		problems = append(problems, msg)
	}
	if c.Binary == "" {
		bad("binary is required")
	}
	if c.Target.Gdb == "" {
		bad("target.gdb is required")
	}
	if c.Target.Telnet == "" {
		bad("target.telnet is required")
	}
	if c.Target.OpenOCD != "" && c.Target.OpenOCDConfig == "" {
		bad("target.openocd_config is required when target.openocd is set")
	}
	if c.Target.DialTimeout < 0 {
		bad("target.dial_timeout must not be negative")
	}
	if c.Handoff.Entry == "" {
		bad("handoff.entry is required")
	}
	if c.Handoff.Exit == "" && c.Handoff.Fallback == "" {
		bad("handoff.exit or handoff.fallback is required")
	}
	if _, err := ParseAdjustment(c.Handoff.Adjust); err != nil {
		bad(err.Error())
	}
	if c.Handoff.EntryTimeout < 0 || c.Handoff.ExitTimeout < 0 {
		bad("handoff timeouts must not be negative")
	}
	if len(c.Emulator.Memory) == 0 {
		bad("emulator.memory needs at least one region")
	}
	for i, m := range c.Emulator.Memory {
		if m.Size == 0 {
			bad("emulator.memory " + m.Name + ": size is zero")
		}
		if _, err := m.ProtBits(); err != nil {
			bad(err.Error())
		}
		for _, o := range c.Emulator.Memory[:i] {
			if m.Addr < o.End() && o.Addr < m.End() {
				bad("emulator.memory " + m.Name + " overlaps " + o.Name)
			}
		}
	}
	for _, t := range c.Transfer {
		if t.Size == 0 {
			bad("transfer " + t.Name + ": size is zero")
		}
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ResolvePath makes a path from a config file relative to the file's directory.
func ResolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
