package models

// Ins is one disassembled instruction, as rendered in emulator trace lines.
type Ins interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string
}
