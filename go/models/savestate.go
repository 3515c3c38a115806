package models

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// state file format:
//
// header (big endian)
// [4]byte("HCST")
// uint32(format version)
// [32]byte(arch name, right-null-padded)
// uint32(crc32 of compressed body)
// uint32(length of compressed body)
// remainder is snappy-compressed
//
// -- uncompressed body start --
// int64(elapsed nanoseconds, -1 if not measured)
// entry, exit: uint16(len), symbol, uint64(addr)
// uint32(number of registers)
// 1..num: uint8(len), name, uint64(value)
// uint32(number of memory dumps)
// 1..num: uint8(len), name, uint64(addr), uint32(len), <raw bytes>

const (
	StateMagic   = "HCST"
	StateVersion = 1
)

var StateMagicErr = errors.New("invalid state file magic")
var StateChecksumErr = errors.New("state file checksum mismatch")

type MemoryDump struct {
	Name string
	Addr uint64
	Data []byte
}

// State is everything a handoff run captured, persisted with -savestate.
type State struct {
	Arch    string
	Entry   HandoffAddress
	Exit    HandoffAddress
	Elapsed time.Duration
	Regs    *RegisterSnapshot
	Memory  []MemoryDump
}

type stateHeader struct {
	Magic    string `struc:"[4]byte"`
	Version  uint32
	Arch     string `struc:"[32]byte"`
	Checksum uint32
	BodyLen  int `struc:"uint32,sizeof=Body"`
	Body     []byte
}

type stateAddr struct {
	SymLen int `struc:"uint16,sizeof=Sym"`
	Sym    string
	Addr   uint64
}

type stateReg struct {
	NameLen int `struc:"uint8,sizeof=Name"`
	Name    string
	Val     uint64
}

type stateMem struct {
	NameLen int `struc:"uint8,sizeof=Name"`
	Name    string
	Addr    uint64
	DataLen int `struc:"uint32,sizeof=Data"`
	Data    []byte
}

func SaveState(w io.Writer, st *State) error {
	var body bytes.Buffer
	s := StrucStream{&body, binary.BigEndian}
	elapsed := int64(st.Elapsed)
	if st.Elapsed < 0 {
		elapsed = -1
	}
	if err := s.Pack(&elapsed); err != nil {
		return errors.Wrap(err, "failed to pack elapsed time")
	}
	for _, h := range []HandoffAddress{st.Entry, st.Exit} {
		if err := s.Pack(&stateAddr{Sym: h.Symbol, Addr: h.Addr}); err != nil {
			return errors.Wrap(err, "failed to pack handoff address")
		}
	}
	var regs []RegVal
	if st.Regs != nil {
		regs = st.Regs.Regs
	}
	count := uint32(len(regs))
	if err := s.Pack(&count); err != nil {
		return errors.WithStack(err)
	}
	for _, r := range regs {
		if err := s.Pack(&stateReg{Name: r.Name, Val: r.Val}); err != nil {
			return errors.Wrapf(err, "failed to pack register %s", r.Name)
		}
	}
	count = uint32(len(st.Memory))
	if err := s.Pack(&count); err != nil {
		return errors.WithStack(err)
	}
	for _, m := range st.Memory {
		if err := s.Pack(&stateMem{Name: m.Name, Addr: m.Addr, Data: m.Data}); err != nil {
			return errors.Wrapf(err, "failed to pack memory %s", m.Name)
		}
	}

	data := snappy.Encode(nil, body.Bytes())
	header := &stateHeader{
		Magic:    StateMagic,
		Version:  StateVersion,
		Arch:     st.Arch,
		Checksum: crc32.ChecksumIEEE(data),
		Body:     data,
	}
	return errors.Wrap(struc.PackWithOrder(w, header, binary.BigEndian), "failed to pack state header")
}

func LoadState(r io.Reader) (*State, error) {
	var header stateHeader
	if err := struc.UnpackWithOrder(r, &header, binary.BigEndian); err != nil {
		return nil, errors.Wrap(err, "failed to unpack state header")
	}
	if header.Magic != StateMagic {
		return nil, errors.WithStack(StateMagicErr)
	}
	if header.Version != StateVersion {
		return nil, errors.Errorf("unsupported state file version %d", header.Version)
	}
	if crc32.ChecksumIEEE(header.Body) != header.Checksum {
		return nil, errors.WithStack(StateChecksumErr)
	}
	raw, err := snappy.Decode(nil, header.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress state body")
	}
	s := StrucStream{bytes.NewBuffer(raw), binary.BigEndian}
	st := &State{Arch: strings.TrimRight(header.Arch, "\x00")}

	var elapsed int64
	if err := s.Unpack(&elapsed); err != nil {
		return nil, errors.Wrap(err, "failed to unpack elapsed time")
	}
	st.Elapsed = time.Duration(elapsed)

	var addrs [2]stateAddr
	for i := range addrs {
		if err := s.Unpack(&addrs[i]); err != nil {
			return nil, errors.Wrap(err, "failed to unpack handoff address")
		}
	}
	st.Entry = HandoffAddress{Symbol: addrs[0].Sym, Raw: addrs[0].Addr, Addr: addrs[0].Addr, Role: RoleEntry}
	st.Exit = HandoffAddress{Symbol: addrs[1].Sym, Raw: addrs[1].Addr, Addr: addrs[1].Addr, Role: RoleExit}

	var count uint32
	if err := s.Unpack(&count); err != nil {
		return nil, errors.WithStack(err)
	}
	st.Regs = &RegisterSnapshot{Regs: make([]RegVal, 0, count)}
	for i := uint32(0); i < count; i++ {
		var reg stateReg
		if err := s.Unpack(&reg); err != nil {
			return nil, errors.Wrap(err, "failed to unpack register")
		}
		st.Regs.Regs = append(st.Regs.Regs, RegVal{Name: reg.Name, Val: reg.Val})
	}
	if err := s.Unpack(&count); err != nil {
		return nil, errors.WithStack(err)
	}
	for i := uint32(0); i < count; i++ {
		var mem stateMem
		if err := s.Unpack(&mem); err != nil {
			return nil, errors.Wrap(err, "failed to unpack memory")
		}
		st.Memory = append(st.Memory, MemoryDump{Name: mem.Name, Addr: mem.Addr, Data: mem.Data})
	}
	return st, nil
}
