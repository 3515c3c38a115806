package models

import "fmt"

// Symbol is a function or object from the firmware's symbol table.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Func  bool
}

func (s Symbol) Contains(addr uint64) bool {
	if s.Size == 0 {
		return addr == s.Value
	}
	return addr >= s.Value && addr-s.Value < s.Size
}

func (s Symbol) String() string {
	return fmt.Sprintf("%#x %s", s.Value, s.Name)
}
