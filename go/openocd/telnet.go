// Package openocd drives the OpenOCD telnet console used to reset the board
// before any debugger attaches.
package openocd

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/models"
)

const (
	iac  = 255
	sb   = 250
	se   = 240
	will = 251
	wont = 252
	do   = 253
	dont = 254
)

var prompt = []byte("> ")

// Console is a connection to OpenOCD's command console (telnet port, 4444 by default).
type Console struct {
	Log     *zap.Logger
	Timeout time.Duration

	nc net.Conn
	br *bufio.Reader
}

func DialConsole(ctx context.Context, addr string, log *zap.Logger) (*Console, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to openocd console %s", addr)
	}
	c := &Console{Log: log, Timeout: 10 * time.Second, nc: nc, br: bufio.NewReader(nc)}
	if _, err := c.readPrompt(ctx); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "waiting for openocd banner")
	}
	return c, nil
}

// stripTelnet removes IAC negotiation sequences and carriage returns.
func stripTelnet(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c != iac {
			if c != '\r' && c != 0 {
				out = append(out, c)
			}
			continue
		}
		if i+1 >= len(p) {
			break
		}
		switch p[i+1] {
		case iac:
			out = append(out, iac)
			i++
		case will, wont, do, dont:
			i += 2
		case sb:
			end := bytes.Index(p[i:], []byte{iac, se})
			if end < 0 {
				return out
			}
			i += end + 1
		default:
			i++
		}
	}
	return out
}

func (c *Console) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		d = dl
	}
	return d
}

// readPrompt reads until the console prompt and returns what came before it.
func (c *Console) readPrompt(ctx context.Context) (string, error) {
	c.nc.SetReadDeadline(c.deadline(ctx))
	var buf []byte
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", errors.Wrap(err, "openocd console read failed")
		}
		buf = append(buf, b)
		clean := stripTelnet(buf)
		if bytes.HasSuffix(clean, prompt) {
			return string(clean[:len(clean)-len(prompt)]), nil
		}
	}
}

// Command runs one console command and returns its output without the echo.
func (c *Console) Command(ctx context.Context, cmd string) (string, error) {
	c.nc.SetWriteDeadline(c.deadline(ctx))
	if _, err := c.nc.Write([]byte(cmd + "\n")); err != nil {
		return "", errors.Wrap(err, "openocd console write failed")
	}
	out, err := c.readPrompt(ctx)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == cmd {
		lines = lines[1:]
	}
	out = strings.TrimSpace(strings.Join(lines, "\n"))
	c.Log.Debug("openocd", zap.String("cmd", cmd), zap.String("out", out))
	return out, nil
}

// ResetHalt resets the board and leaves the core halted at the reset vector.
func (c *Console) ResetHalt(ctx context.Context) error {
	out, err := c.Command(ctx, "reset halt")
	if err != nil {
		return errors.Wrap(models.ErrResetFailed, err.Error())
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Error:") || strings.Contains(line, "failed") {
			return errors.Wrap(models.ErrResetFailed, line)
		}
	}
	return nil
}

func (c *Console) Close() error {
	return c.nc.Close()
}

// Resetter dials the console for each reset, matching how a fresh run starts.
type Resetter struct {
	Addr string
	Log  *zap.Logger
}

func (r *Resetter) ResetHalt(ctx context.Context) error {
	c, err := DialConsole(ctx, r.Addr, r.Log)
	if err != nil {
		return errors.Wrap(models.ErrResetFailed, err.Error())
	}
	defer c.Close()
	return c.ResetHalt(ctx)
}
