package forward

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

var (
	ErrRangeOverlap = errors.New("forwarded ranges overlap")
	ErrNoAccess     = errors.New("forwarded range declares no access")
)

// Ranges is a validated, base-sorted, non-overlapping set of forwarded ranges.
type Ranges []models.PeripheralRange

// Build validates ranges and returns them sorted by base address.
// Every range must declare its capabilities explicitly.
func Build(ranges ...models.PeripheralRange) (Ranges, error) {
	out := make(Ranges, len(ranges))
	copy(out, ranges)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	for i, r := range out {
		if r.Size == 0 {
			return nil, errors.Wrapf(models.ErrInvalidConfig, "forward %s: size is zero", r.Name)
		}
		if r.End() < r.Base {
			return nil, errors.Wrapf(models.ErrAddressOutOfRange, "forward %s: %#x+%#x overflows", r.Name, r.Base, r.Size)
		}
		if r.Access == 0 {
			return nil, errors.Wrapf(ErrNoAccess, "forward %s", r.Name)
		}
		if i > 0 && out[i-1].Overlaps(r) {
			return nil, errors.Wrapf(ErrRangeOverlap, "%s and %s", out[i-1], r)
		}
	}
	return out, nil
}

// Defaults is the Nucleo-L152RE layout: the whole peripheral window, and the
// low SRAM page the HAL touches during init.
func Defaults() Ranges {
	ranges, err := Build(
		models.PeripheralRange{Name: "peripherals", Base: 0x40000000, Size: 0x10000000, Access: models.AccessAll},
		models.PeripheralRange{Name: "sram", Base: 0x20000000, Size: 0x1000, Access: models.AccessAll},
	)
	if err != nil {
		panic(err)
	}
	return ranges
}

func (rs Ranges) Find(addr uint64) (models.PeripheralRange, bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].End() > addr })
	if i < len(rs) && rs[i].Contains(addr) {
		return rs[i], true
	}
	return models.PeripheralRange{}, false
}

// Forwards reports whether an access of kind at addr must go to the hardware.
// Addresses outside every range, or kinds a range does not declare, are serviced locally.
func (rs Ranges) Forwards(addr uint64, kind models.Access) bool {
	r, ok := rs.Find(addr)
	return ok && r.Access.Has(kind)
}

func (rs Ranges) String() string {
	lines := make([]string, len(rs))
	for i, r := range rs {
		lines[i] = fmt.Sprintf("%#010x-%#010x %-12s %s", r.Base, r.End(), r.Name, r.Access)
	}
	return strings.Join(lines, "\n")
}
