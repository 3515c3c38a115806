package loader

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

// LoadImage reads a memory image for an emulator region. ELF files yield their
// loadable segments; anything else is a raw dump placed at base.
func LoadImage(path string, base uint64) ([]Segment, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}
	r := bytes.NewReader(p)
	if MatchElf(r) {
		e, err := NewElfLoader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		return e.Segments()
	}
	return []Segment{{
		Name: filepath.Base(path),
		Addr: base,
		Data: p,
		Prot: models.PROT_ALL,
	}}, nil
}
