package debug

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrUnsupported = errors.New("packet not supported by remote")

const (
	BreakSoftware = 0
	BreakHardware = 1
)

// Client speaks the GDB remote serial protocol to a gdbserver such as OpenOCD's.
type Client struct {
	// MaxPacket bounds m/M payloads. The stub's PacketSize lowers it after connecting.
	MaxPacket int
	// Output receives "O" console packets seen while waiting for a stop.
	Output func(string)

	rw   io.ReadWriteCloser
	conn *conn
	mu   sync.Mutex
}

func Dial(ctx context.Context, addr string, maxPacket int) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to gdbserver %s", addr)
	}
	return NewClient(nc, maxPacket)
}

func NewClient(rw io.ReadWriteCloser, maxPacket int) (*Client, error) {
	if maxPacket <= 0 {
		maxPacket = 1024
	}
	c := &Client{MaxPacket: maxPacket, rw: rw, conn: newConn(rw)}
	if err := c.conn.handshake(); err != nil {
		rw.Close()
		return nil, errors.Wrap(err, "gdb remote handshake failed")
	}
	if err := c.querySupported(); err != nil {
		rw.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) querySupported() error {
	resp, err := c.Exec("qSupported:hwbreak+;swbreak+")
	if err != nil {
		return err
	}
	for _, feat := range strings.Split(resp, ";") {
		if strings.HasPrefix(feat, "PacketSize=") {
			size, err := strconv.ParseUint(feat[len("PacketSize="):], 16, 32)
			if err == nil && int(size) < c.MaxPacket {
				c.MaxPacket = int(size)
			}
		}
	}
	return nil
}

// Exec sends one command and returns its reply. "Exx" replies become *RemoteError.
func (c *Client) Exec(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, err := c.conn.exec(cmd)
	if err != nil {
		return "", err
	}
	if err := remoteError(cmd, resp); err != nil {
		return "", errors.WithStack(err)
	}
	return resp, nil
}

func (c *Client) execOK(cmd string) error {
	resp, err := c.Exec(cmd)
	if err != nil {
		return err
	}
	if resp == "" {
		return errors.Wrap(ErrUnsupported, cmd)
	}
	if resp != "OK" {
		return errors.Errorf("%s: unexpected reply %q", cmd, resp)
	}
	return nil
}

func (c *Client) ReadRegister(num int) (uint64, error) {
	resp, err := c.Exec(fmt.Sprintf("p%x", num))
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, errors.Wrapf(ErrUnsupported, "p%x", num)
	}
	return unpackLE(resp)
}

func (c *Client) WriteRegister(num int, val uint64, size int) error {
	return c.execOK(fmt.Sprintf("P%x=%s", num, packLE(val, size)))
}

// hex doubles the payload, minus room for the command and framing
func (c *Client) chunk() uint64 {
	n := (c.MaxPacket - 32) / 2
	if n < 16 {
		n = 16
	}
	return uint64(n)
}

func (c *Client) ReadMemory(addr, size uint64) ([]byte, error) {
	out := make([]byte, 0, size)
	for size > 0 {
		n := c.chunk()
		if n > size {
			n = size
		}
		resp, err := c.Exec(fmt.Sprintf("m%x,%x", addr, n))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %#x", addr)
		}
		data, err := hex.DecodeString(resp)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %#x", addr)
		}
		if len(data) == 0 {
			return nil, errors.Errorf("reading %#x: empty reply", addr)
		}
		out = append(out, data...)
		addr += uint64(len(data))
		size -= uint64(len(data))
	}
	return out, nil
}

func (c *Client) WriteMemory(addr uint64, p []byte) error {
	for len(p) > 0 {
		n := c.chunk()
		if n > uint64(len(p)) {
			n = uint64(len(p))
		}
		if err := c.execOK(fmt.Sprintf("M%x,%x:%s", addr, n, hex.EncodeToString(p[:n]))); err != nil {
			return errors.Wrapf(err, "writing %#x", addr)
		}
		addr += n
		p = p[n:]
	}
	return nil
}

func (c *Client) InsertBreakpoint(typ int, addr uint64, kind int) error {
	return c.execOK(fmt.Sprintf("Z%d,%x,%x", typ, addr, kind))
}

func (c *Client) RemoveBreakpoint(typ int, addr uint64, kind int) error {
	return c.execOK(fmt.Sprintf("z%d,%x,%x", typ, addr, kind))
}

// Continue resumes the target without waiting. The reply arrives through WaitStop.
func (c *Client) Continue() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.send("c")
}

// WaitStop blocks until the stub reports a stop. Only one goroutine may wait,
// and no other command may be sent while the target runs.
func (c *Client) WaitStop() (*StopReply, error) {
	for {
		resp, err := c.conn.recv()
		if err != nil {
			return nil, err
		}
		if len(resp) > 1 && resp[0] == 'O' && resp != "OK" {
			if c.Output != nil {
				if text, err := hex.DecodeString(resp[1:]); err == nil {
					c.Output(string(text))
				}
			}
			continue
		}
		return ParseStopReply(resp)
	}
}

// Interrupt asks a running target to halt. It is safe to call while another goroutine is in WaitStop.
func (c *Client) Interrupt() error {
	return errors.Wrap(c.conn.write([]byte{0x03}), "gdb remote interrupt failed")
}

func (c *Client) Detach() error {
	return c.execOK("D")
}

func (c *Client) Close() error {
	return c.rw.Close()
}
