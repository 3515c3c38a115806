package debug

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

const maxRetransmits = 5

// conn frames GDB remote serial protocol packets.
type conn struct {
	remote io.ReadWriter
	br     *bufio.Reader
	ack    bool
	wmu    sync.Mutex
}

func newConn(remote io.ReadWriter) *conn {
	return &conn{remote: remote, br: bufio.NewReader(remote)}
}

func (c *conn) handshake() error {
	c.ack = true

	if err := c.sendACK(true); err != nil {
		return err
	}
	return c.disableACK()
}

func (c *conn) exec(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.recv()
}

func (c *conn) write(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.remote.Write(p)
	return err
}

func (c *conn) send(cmd string) error {
	data := escape([]byte(cmd))
	p := fmt.Sprintf("$%s#%02x", data, checksum(data))

	for i := 0; i < maxRetransmits; i++ {
		if err := c.write([]byte(p)); err != nil {
			return errors.Wrap(err, "gdb remote write failed")
		}
		if !c.ack {
			return nil
		}
		ok, err := c.recvACK()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return errors.Errorf("failed to send %s after %d attempts", cmd, maxRetransmits)
}

func (c *conn) recv() (string, error) {
	for i := 0; i < maxRetransmits; i++ {
		// skip stray acks and anything before the packet start
		if _, err := c.br.ReadBytes('$'); err != nil {
			return "", errors.Wrap(err, "gdb remote read failed")
		}
		res, err := c.br.ReadBytes('#')
		if err != nil {
			return "", errors.Wrap(err, "gdb remote read failed")
		}
		buf := make([]byte, 2)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return "", errors.Wrap(err, "gdb remote read failed")
		}

		data := res[:len(res)-1]
		sum, err := strconv.ParseUint(string(buf), 16, 8)
		sumOK := err == nil && uint8(sum) == checksum(data)

		if !c.ack {
			if sumOK {
				return string(decodeRLE(unescape(data))), nil
			}
			return "", errors.Errorf("checksum mismatch: $%s#%s", data, buf)
		}
		if sumOK {
			if err := c.sendACK(true); err != nil {
				return "", err
			}
			return string(decodeRLE(unescape(data))), nil
		}
		if err := c.sendACK(false); err != nil {
			return "", err
		}
	}
	return "", errors.Errorf("failed to recv data after %d attempts", maxRetransmits)
}

func (c *conn) sendACK(ack bool) error {
	if ack {
		return c.write([]byte{'+'})
	}
	return c.write([]byte{'-'})
}

func (c *conn) recvACK() (bool, error) {
	b, err := c.br.ReadByte()
	if err != nil {
		return false, errors.Wrap(err, "gdb remote read failed")
	}
	if b != '+' && b != '-' {
		return false, errors.Errorf("invalid ack byte: %c", b)
	}
	return b == '+', nil
}

func (c *conn) disableACK() error {
	res, err := c.exec("QStartNoAckMode")
	c.ack = res != "OK"
	return err
}
