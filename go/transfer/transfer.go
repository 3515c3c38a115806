// Package transfer moves CPU state between two backends modelling the same ISA.
package transfer

import (
	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

// Capture reads every register of arch's vocabulary from b, in order.
// It is all-or-nothing: on any failure no snapshot is returned.
func Capture(b models.Backend, arch *models.Arch) (*models.RegisterSnapshot, error) {
	vals := make([]uint64, len(arch.Regs))
	for i, name := range arch.Regs {
		val, err := b.RegRead(name)
		if err != nil {
			return nil, errors.Wrapf(models.ErrPartialStateRead, "%s: reading %s: %v", b.Name(), name, err)
		}
		vals[i] = arch.Mask(val)
	}
	return models.NewRegisterSnapshot(arch.Regs, vals), nil
}

// Apply writes every register of snap to b in snapshot order.
func Apply(b models.Backend, snap *models.RegisterSnapshot) error {
	for _, r := range snap.Regs {
		if err := b.RegWrite(r.Name, r.Val); err != nil {
			return errors.Wrapf(err, "%s: writing %s", b.Name(), r.Name)
		}
	}
	return nil
}

// ReconcileMode sets arch's mode bit in the destination's flags register.
// Without it a Thumb-only core resumed from a transferred snapshot decodes garbage.
func ReconcileMode(b models.Backend, arch *models.Arch) (old, val uint64, err error) {
	if arch.Mode.Reg == "" {
		return 0, 0, nil
	}
	old, err = b.RegRead(arch.Mode.Reg)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "%s: reading %s for %s mode", b.Name(), arch.Mode.Reg, arch.Mode.Desc)
	}
	val = arch.Mode.Apply(old)
	if err := b.RegWrite(arch.Mode.Reg, val); err != nil {
		return old, 0, errors.Wrapf(err, "%s: writing %s for %s mode", b.Name(), arch.Mode.Reg, arch.Mode.Desc)
	}
	return old, val, nil
}

// Transfer captures src fully, applies it to dst, then reconciles dst's mode.
func Transfer(src, dst models.Backend, arch *models.Arch) (*models.RegisterSnapshot, error) {
	snap, err := Capture(src, arch)
	if err != nil {
		return nil, err
	}
	if err := Apply(dst, snap); err != nil {
		return nil, err
	}
	if _, _, err := ReconcileMode(dst, arch); err != nil {
		return nil, err
	}
	return snap, nil
}
