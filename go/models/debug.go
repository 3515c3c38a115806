package models

import (
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var demangleRe = regexp.MustCompile(`^[^(]+`)

// Demangle runs a C++ symbol through c++filt, returning it unchanged if
// c++filt is missing or the name isn't mangled.
func Demangle(name string) string {
	if strings.HasPrefix(name, "__Z") {
		name = name[1:]
	} else if !strings.HasPrefix(name, "_Z") {
		return name
	}
	cmd := exec.Command("c++filt", "-n")
	cmd.Stdin = strings.NewReader(name + "\n")
	out, err := cmd.Output()
	if err != nil {
		return name
	}
	trimmed := strings.Trim(string(out), "\t\r\n ")
	if trimmed == "" {
		return name
	}
	return demangleRe.FindString(trimmed)
}

// HexDump renders memory as 80-column lines of bits-sized blocks with an ascii tail.
func HexDump(base uint64, mem []byte, bits int) []string {
	clean := func(p []byte) string {
		o := make([]byte, len(p))
		for i, c := range p {
			if c >= 0x20 && c <= 0x7e {
				o[i] = c
			} else {
				o[i] = '.'
			}
		}
		return string(o)
	}
	bsz := bits / 8
	hexFmt := fmt.Sprintf("0x%%0%dx:", bsz*2)
	padBlock := strings.Repeat(" ", bsz*2)
	padTail := strings.Repeat(" ", bsz)

	addrSize := bsz*2 + 4
	blockCount := ((80 - addrSize) * 3 / 4) / ((bsz + 1) * 2)
	lineSize := blockCount * bsz
	var out []string
	blocks := make([]string, blockCount)
	tail := make([]string, blockCount)
	for i := 0; i < len(mem); i += lineSize {
		line := mem[i:]
		for j := range blocks {
			start, end := j*bsz, (j+1)*bsz
			if start >= len(line) {
				blocks[j], tail[j] = padBlock, padTail
				continue
			}
			pad := 0
			if end > len(line) {
				pad = end - len(line)
				end = len(line)
			}
			block := line[start:end]
			blocks[j] = hex.EncodeToString(block) + strings.Repeat("  ", pad)
			tail[j] = clean(block) + strings.Repeat(" ", pad)
		}
		out = append(out, fmt.Sprintf(hexFmt+" %s [%s]", base+uint64(i), strings.Join(blocks, " "), strings.Join(tail, " ")))
	}
	return out
}
