package debug

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/models"
)

// Interrupter is implemented by backends that can halt without ending their session.
type Interrupter interface {
	Interrupt() error
}

// Gdbstub serves a models.Backend over the GDB remote serial protocol,
// so a halted backend can be inspected with gdb.
type Gdbstub struct {
	Backend models.Backend
	Arch    *models.Arch
	Log     *zap.Logger
}

func NewGdbstub(b models.Backend, arch *models.Arch, log *zap.Logger) *Gdbstub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gdbstub{Backend: b, Arch: arch, Log: log}
}

// Serve handles one connection at a time until ctx is done or a client detaches.
func (s *Gdbstub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	c, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "gdbstub accept failed")
	}
	s.Log.Info("gdb client connected", zap.Stringer("addr", c.RemoteAddr()))
	return s.Run(ctx, c)
}

// Run serves a single session on c and closes it.
func (s *Gdbstub) Run(ctx context.Context, c io.ReadWriteCloser) error {
	defer c.Close()
	sess := &gdbSession{
		stub:        s,
		w:           c,
		done:        make(chan struct{}),
		packets:     make(chan []byte),
		interrupts:  make(chan struct{}, 1),
		breakpoints: make(map[uint64]*models.Breakpoint),
		regNames:    make(map[int]string),
	}
	for _, name := range s.Arch.Regs {
		sess.regNames[s.Arch.GdbRegs[name]] = name
	}
	for name, num := range s.Arch.GdbRegs {
		if _, ok := sess.regNames[num]; !ok {
			sess.regNames[num] = name
		}
	}
	defer close(sess.done)
	readErr := make(chan error, 1)
	go func() { readErr <- sess.read(bufio.NewReader(c)) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Cause(err) == io.EOF {
				return nil
			}
			return err
		case p := <-sess.packets:
			done, err := sess.handle(ctx, string(p))
			if err != nil || done {
				return err
			}
		case <-sess.interrupts:
			// not running, just report where we are
			if err := sess.sendStop(0x02); err != nil {
				return err
			}
		}
	}
}

type gdbSession struct {
	stub    *Gdbstub
	w       io.Writer
	noAck   bool
	noAckOK int32

	done       chan struct{}
	packets    chan []byte
	interrupts chan struct{}

	breakpoints map[uint64]*models.Breakpoint
	regNames    map[int]string
}

func (c *gdbSession) read(input *bufio.Reader) error {
	for {
		b, err := input.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case 0x03:
			select {
			case c.interrupts <- struct{}{}:
			default:
			}
			continue
		case '+':
			if atomic.LoadInt32(&c.noAckOK) == 1 {
				c.noAck = true
			}
			continue
		case '$':
		default:
			continue
		}
		data, err := input.ReadBytes('#')
		if err != nil {
			return err
		}
		chk := make([]byte, 2)
		if _, err := io.ReadFull(input, chk); err != nil {
			return err
		}
		data = data[:len(data)-1]
		if fmt.Sprintf("%02x", checksum(data)) != string(chk) {
			c.ack('-')
			continue
		}
		c.ack('+')
		select {
		case c.packets <- unescape(data):
		case <-c.done:
			return nil
		}
	}
}

func (c *gdbSession) ack(b byte) {
	if !c.noAck {
		c.w.Write([]byte{b})
	}
}

func (c *gdbSession) send(s string) error {
	data := escape([]byte(s))
	_, err := fmt.Fprintf(c.w, "$%s#%02x", data, checksum(data))
	return errors.Wrap(err, "gdbstub socket write failed")
}

func (c *gdbSession) regSize() int {
	return c.stub.Arch.Bits / 8
}

func (c *gdbSession) sendStop(sig uint8) error {
	arch := c.stub.Arch
	reply := fmt.Sprintf("T%02x", sig)
	if pc, err := c.stub.Backend.RegRead(arch.PC); err == nil {
		reply += fmt.Sprintf("%02x:%s;", arch.GdbRegs[arch.PC], packLE(pc, c.regSize()))
	}
	if sig == 0x05 {
		reply += "hwbreak:;"
	}
	return c.send(reply)
}

func (c *gdbSession) memory() (models.MemoryBackend, bool) {
	mem, ok := c.stub.Backend.(models.MemoryBackend)
	return mem, ok
}

// handle returns true when the session is over.
func (c *gdbSession) handle(ctx context.Context, cmd string) (bool, error) {
	log := c.stub.Log
	b := c.stub.Backend
	if cmd == "" {
		return false, nil
	}
	op, rest := cmd[0], cmd[1:]
	switch op {
	case 'q':
		switch {
		case strings.HasPrefix(rest, "Supported"):
			return false, c.send("PacketSize=4000;hwbreak+")
		case rest == "Attached":
			return false, c.send("1")
		case rest == "C":
			return false, c.send("QC1")
		}
		log.Debug("unknown query", zap.String("cmd", cmd))
		return false, c.send("")
	case 'Q':
		if rest == "StartNoAckMode" {
			atomic.StoreInt32(&c.noAckOK, 1)
			return false, c.send("OK")
		}
		return false, c.send("")
	case 'H', 'T':
		return false, c.send("OK")
	case '?':
		return false, c.sendStop(0x05)
	case 'p':
		num, err := strconv.ParseUint(rest, 16, 16)
		name, ok := c.regNames[int(num)]
		if err != nil || !ok {
			return false, c.send("E01")
		}
		val, err := b.RegRead(name)
		if err != nil {
			return false, c.send("E01")
		}
		return false, c.send(packLE(val, c.regSize()))
	case 'P':
		kv := strings.SplitN(rest, "=", 2)
		if len(kv) != 2 {
			return false, c.send("E01")
		}
		num, err := strconv.ParseUint(kv[0], 16, 16)
		name, ok := c.regNames[int(num)]
		val, verr := unpackLE(kv[1])
		if err != nil || verr != nil || !ok {
			return false, c.send("E01")
		}
		if err := b.RegWrite(name, val); err != nil {
			return false, c.send("E01")
		}
		return false, c.send("OK")
	case 'g':
		nums := make([]int, 0, len(c.regNames))
		for num := range c.regNames {
			nums = append(nums, num)
		}
		sort.Ints(nums)
		var out strings.Builder
		for i := 0; len(nums) > 0 && i <= nums[len(nums)-1]; i++ {
			name, ok := c.regNames[i]
			val, err := b.RegRead(name)
			if !ok || err != nil {
				out.WriteString(strings.Repeat("xx", c.regSize()))
				continue
			}
			out.WriteString(packLE(val, c.regSize()))
		}
		return false, c.send(out.String())
	case 'm':
		mem, ok := c.memory()
		addr, size, err := parseRange(rest)
		if !ok || err != nil {
			return false, c.send("E01")
		}
		data, err := mem.MemRead(addr, size)
		if err != nil {
			return false, c.send("E14")
		}
		return false, c.send(hex.EncodeToString(data))
	case 'M':
		mem, ok := c.memory()
		parts := strings.SplitN(rest, ":", 2)
		if !ok || len(parts) != 2 {
			return false, c.send("E01")
		}
		addr, _, err := parseRange(parts[0])
		data, herr := hex.DecodeString(parts[1])
		if err != nil || herr != nil {
			return false, c.send("E01")
		}
		if err := mem.MemWrite(addr, data); err != nil {
			return false, c.send("E14")
		}
		return false, c.send("OK")
	case 'Z', 'z':
		args := strings.Split(rest, ",")
		if len(args) != 3 || (args[0] != "0" && args[0] != "1") {
			return false, c.send("")
		}
		addr, err := strconv.ParseUint(args[1], 16, 64)
		if err != nil {
			return false, c.send("E01")
		}
		if op == 'z' {
			if bp, ok := c.breakpoints[addr]; ok {
				bp.Abort(nil)
				delete(c.breakpoints, addr)
			}
			return false, c.send("OK")
		}
		if _, ok := c.breakpoints[addr]; !ok {
			bp, err := b.SetBreakpoint(addr)
			if err != nil {
				log.Debug("breakpoint failed", zap.Uint64("addr", addr), zap.Error(err))
				return false, c.send("E22")
			}
			c.breakpoints[addr] = bp
		}
		return false, c.send("OK")
	case 'c':
		return c.cont(ctx)
	case 'D':
		return true, c.send("OK")
	case 'k':
		return true, nil
	}
	log.Debug("unknown command", zap.String("cmd", cmd))
	return false, c.send("")
}

func (c *gdbSession) cont(ctx context.Context) (bool, error) {
	if err := c.stub.Backend.Continue(); err != nil {
		c.stub.Log.Warn("continue failed", zap.Error(err))
		return false, c.send("E01")
	}
	hits := make(chan uint64, len(c.breakpoints))
	aborted := make(chan struct{}, len(c.breakpoints))
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for addr, bp := range c.breakpoints {
		go func(addr uint64, bp *models.Breakpoint) {
			select {
			case <-bp.Done():
				hits <- addr
			case <-bp.Aborted():
				aborted <- struct{}{}
			case <-cctx.Done():
			}
		}(addr, bp)
	}
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case addr := <-hits:
			delete(c.breakpoints, addr)
			return false, c.sendStop(0x05)
		case <-aborted:
			// the backend stopped underneath us
			return true, c.send("X09")
		case <-c.interrupts:
			if in, ok := c.stub.Backend.(Interrupter); ok {
				if err := in.Interrupt(); err != nil {
					return true, err
				}
				return false, c.sendStop(0x02)
			}
			if err := c.stub.Backend.Stop(); err != nil {
				return true, err
			}
			return true, c.send("X02")
		}
	}
}
