package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Access is the capability set a forwarded range declares.
type Access uint32

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExec
	AccessIO
	AccessMemory
	AccessTypedValue
	AccessTypedAddress

	AccessAll = AccessRead | AccessWrite | AccessExec | AccessIO | AccessMemory | AccessTypedValue | AccessTypedAddress
)

var accessNames = []struct {
	bit  Access
	name string
}{
	{AccessRead, "read"},
	{AccessWrite, "write"},
	{AccessExec, "execute"},
	{AccessIO, "io"},
	{AccessMemory, "memory"},
	{AccessTypedValue, "typed_value"},
	{AccessTypedAddress, "typed_address"},
}

var accessAliases = map[string]Access{
	"exec":             AccessExec,
	"typed-value":      AccessTypedValue,
	"typed-address":    AccessTypedAddress,
	"concrete_value":   AccessTypedValue,
	"concrete_address": AccessTypedAddress,
}

func ParseAccess(names []string) (Access, error) {
	var a Access
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, an := range accessNames {
			if an.name == n {
				a |= an.bit
				found = true
				break
			}
		}
		if !found {
			bit, ok := accessAliases[n]
			if !ok {
				return 0, errors.Wrapf(ErrInvalidConfig, "unknown access capability %q", n)
			}
			a |= bit
		}
	}
	return a, nil
}

func (a Access) Has(o Access) bool {
	return a&o == o
}

func (a Access) Names() []string {
	var out []string
	for _, an := range accessNames {
		if a&an.bit != 0 {
			out = append(out, an.name)
		}
	}
	return out
}

func (a Access) String() string {
	if a == 0 {
		return "none"
	}
	return strings.Join(a.Names(), ",")
}

func (a *Access) UnmarshalYAML(node *yaml.Node) error {
	var names []string
	if err := node.Decode(&names); err != nil {
		return err
	}
	parsed, err := ParseAccess(names)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Access) MarshalYAML() (interface{}, error) {
	return a.Names(), nil
}

// PeripheralRange declares an emulator address range whose accesses are
// forwarded to the physical peripherals instead of local emulated memory.
type PeripheralRange struct {
	Name   string `yaml:"name"`
	Base   uint64 `yaml:"address"`
	Size   uint64 `yaml:"size"`
	Access Access `yaml:"access"`
}

// End is one past the last address of the range.
func (p PeripheralRange) End() uint64 {
	return p.Base + p.Size
}

func (p PeripheralRange) Contains(addr uint64) bool {
	return addr >= p.Base && addr-p.Base < p.Size
}

func (p PeripheralRange) Overlaps(o PeripheralRange) bool {
	return p.Base < o.End() && o.Base < p.End()
}

func (p PeripheralRange) String() string {
	return fmt.Sprintf("%s %#x-%#x [%s]", p.Name, p.Base, p.End(), p.Access)
}
