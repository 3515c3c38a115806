package loader

import (
	"fmt"
)

// Segment is a chunk of the firmware image placed at a fixed address.
type Segment struct {
	Name string
	Addr uint64
	Data []byte
	Prot int
}

func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

func (s Segment) String() string {
	return fmt.Sprintf("%#x-%#x %s", s.Addr, s.End(), s.Name)
}
