package debug

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		if c == '#' || c == '$' || c == '}' || c == '*' {
			out = append(out, '}', c^0x20)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '}' && i < len(p)-1 {
			i++
			out = append(out, p[i]^0x20)
		} else {
			out = append(out, p[i])
		}
	}
	return out
}

// expand run-length encoding: "0*#" repeats '0' ('#'-29) more times
func decodeRLE(p []byte) []byte {
	if !strings.ContainsRune(string(p), '*') {
		return p
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '*' && i > 0 && i < len(p)-1 {
			n := int(p[i+1]) - 29
			for j := 0; j < n; j++ {
				out = append(out, out[len(out)-1])
			}
			i++
		} else {
			out = append(out, p[i])
		}
	}
	return out
}

func checksum(p []byte) uint8 {
	var sum uint8
	for _, c := range p {
		sum += c
	}
	return sum
}

// target byte order is little endian for every supported core
func packLE(val uint64, size int) string {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(val >> (8 * uint(i)))
	}
	return hex.EncodeToString(buf)
}

func unpackLE(s string) (uint64, error) {
	if strings.HasPrefix(s, "x") {
		return 0, errors.New("register value unavailable")
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return 0, errors.Wrap(err, "bad register value")
	}
	if len(buf) > 8 {
		return 0, errors.Errorf("register value too wide: %d bytes", len(buf))
	}
	var val uint64
	for i, b := range buf {
		val |= uint64(b) << (8 * uint(i))
	}
	return val, nil
}

// parseRange splits "addr,length" with an optional "prefix:" as in m and Z packets.
func parseRange(s string) (uint64, uint64, error) {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	tmp := strings.Split(s, ",")
	if len(tmp) != 2 {
		return 0, 0, errors.Errorf("bad range %q", s)
	}
	a, err := strconv.ParseUint(tmp[0], 16, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "bad address")
	}
	b, err := strconv.ParseUint(tmp[1], 16, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "bad length")
	}
	return a, b, nil
}

// RemoteError is an "Exx" reply.
type RemoteError struct {
	Cmd  string
	Code uint8
}

func (e *RemoteError) Error() string {
	return "gdb remote: " + e.Cmd + ": error " + strconv.Itoa(int(e.Code))
}

func remoteError(cmd, resp string) error {
	if len(resp) == 3 && resp[0] == 'E' {
		if code, err := strconv.ParseUint(resp[1:], 16, 8); err == nil {
			return &RemoteError{Cmd: cmd, Code: uint8(code)}
		}
	}
	return nil
}

// StopReply is a parsed S, T, W or X packet.
type StopReply struct {
	Kind   byte
	Signal uint8
	Regs   map[int]uint64
	Reason string
	Raw    string
}

func (s *StopReply) Exited() bool {
	return s.Kind == 'W' || s.Kind == 'X'
}

// PC returns the program counter if the stub reported it in a T packet.
func (s *StopReply) PC(num int) (uint64, bool) {
	val, ok := s.Regs[num]
	return val, ok
}

func ParseStopReply(p string) (*StopReply, error) {
	if len(p) < 3 {
		return nil, errors.Errorf("short stop reply %q", p)
	}
	sig, err := strconv.ParseUint(p[1:3], 16, 8)
	if err != nil {
		return nil, errors.Errorf("bad stop reply %q", p)
	}
	s := &StopReply{Kind: p[0], Signal: uint8(sig), Regs: make(map[int]uint64), Raw: p}
	switch s.Kind {
	case 'S', 'W', 'X':
		return s, nil
	case 'T':
	default:
		return nil, errors.Errorf("unexpected stop reply %q", p)
	}
	for _, pair := range strings.Split(p[3:], ";") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.ParseUint(kv[0], 16, 16); err == nil {
			val, err := unpackLE(kv[1])
			if err != nil {
				return nil, errors.Wrapf(err, "stop reply register %s", kv[0])
			}
			s.Regs[int(n)] = val
			continue
		}
		switch kv[0] {
		case "hwbreak", "swbreak", "watch", "rwatch", "awatch":
			s.Reason = kv[0]
		}
	}
	return s, nil
}
