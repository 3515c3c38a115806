package cpu

import (
	"encoding/hex"
	"fmt"
	"strings"

	cs "github.com/lunixbochs/capstr"
	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

// Capstr disassembles for instruction traces, caching by address.
type Capstr struct {
	Arch, Mode int

	cs *cs.Engine
	dc *models.Discache
}

func (c *Capstr) Open() (err error) {
	engine, err := cs.New(c.Arch, c.Mode)
	if err == nil {
		c.cs = engine
		c.dc = models.NewDiscache()
	}
	return errors.Wrap(err, "cs.New() failed")
}

func (c *Capstr) Dis(mem []byte, addr uint64) ([]models.Ins, error) {
	if c.cs == nil {
		if err := c.Open(); err != nil {
			return nil, err
		}
	}
	if ent := c.dc.Get(addr, mem); ent != nil {
		return ent.Dis, nil
	}
	dis, err := c.cs.Dis(mem, addr, 0)
	if err != nil {
		return nil, errors.Wrap(err, "capstone disassembly failed")
	}
	ret := make([]models.Ins, len(dis))
	for i, v := range dis {
		ret[i] = v
	}
	c.dc.Put(addr, mem, ret)
	return ret, nil
}

// Format renders one instruction per line as "addr: bytes mnemonic operands".
func Format(ins []models.Ins) string {
	width := 0
	for _, in := range ins {
		if len(in.Bytes()) > width {
			width = len(in.Bytes())
		}
	}
	out := make([]string, len(ins))
	for i, in := range ins {
		pad := strings.Repeat(" ", (width-len(in.Bytes()))*2)
		out[i] = fmt.Sprintf("%#x: %s%s %s %s", in.Addr(), pad, hex.EncodeToString(in.Bytes()), in.Mnemonic(), in.OpStr())
	}
	return strings.Join(out, "\n")
}
