package arch

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/arch/arm"
	"github.com/hybricorn/hybricorn/go/models"
)

var archMap = map[string]*models.Arch{
	"cortex-m":  arm.CortexM,
	"cortex-m0": arm.Variant("cortex-m0"),
	"cortex-m3": arm.Variant("cortex-m3"),
	"cortex-m4": arm.Variant("cortex-m4"),
	"cortex-m7": arm.Variant("cortex-m7"),
}

func GetArch(name string) (*models.Arch, error) {
	a, ok := archMap[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(models.ErrInvalidConfig, "arch %q not found (have %s)", name, strings.Join(Names(), ", "))
	}
	return a, nil
}

func Names() []string {
	names := make([]string, 0, len(archMap))
	for name := range archMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
