package transfer

import (
	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

// CaptureMemory dumps every region from src. Like Capture it returns nothing on a partial read.
func CaptureMemory(src models.MemoryBackend, regions []models.MemoryRegion) ([]models.MemoryDump, error) {
	dumps := make([]models.MemoryDump, 0, len(regions))
	for _, r := range regions {
		data, err := src.MemRead(r.Addr, r.Size)
		if err != nil {
			return nil, errors.Wrapf(models.ErrPartialStateRead, "reading %s at %#x+%#x: %v", r.Name, r.Addr, r.Size, err)
		}
		dumps = append(dumps, models.MemoryDump{Name: r.Name, Addr: r.Addr, Data: data})
	}
	return dumps, nil
}

func ApplyMemory(dst models.MemoryBackend, dumps []models.MemoryDump) error {
	for _, d := range dumps {
		if err := dst.MemWrite(d.Addr, d.Data); err != nil {
			return errors.Wrapf(err, "writing %s at %#x", d.Name, d.Addr)
		}
	}
	return nil
}
