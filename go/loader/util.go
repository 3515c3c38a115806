package loader

import (
	"io"
)

// getMagic returns the first n bytes of r, or nil if r is shorter than that.
func getMagic(r io.ReaderAt, n int) []byte {
	ret := make([]byte, n)
	if _, err := r.ReadAt(ret, 0); err != nil {
		return nil
	}
	return ret
}
