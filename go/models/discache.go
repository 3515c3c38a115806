package models

import (
	"bytes"
	"sync"
)

// DiscacheEntry is the disassembly of Mem at Addr.
type DiscacheEntry struct {
	Addr uint64
	Mem  []byte
	Dis  []Ins
}

// Discache memoizes trace disassembly by address. An entry is only returned
// while the bytes at that address are unchanged, so firmware that rewrites
// its own code is disassembled again.
type Discache struct {
	mu    sync.RWMutex
	cache map[uint64]*DiscacheEntry
}

func NewDiscache() *Discache {
	return &Discache{cache: make(map[uint64]*DiscacheEntry)}
}

func (d *Discache) Get(addr uint64, mem []byte) *DiscacheEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if ent, ok := d.cache[addr]; ok && bytes.Equal(mem, ent.Mem) {
		return ent
	}
	return nil
}

// Put stores a copy of mem, since hook buffers are reused by the engine.
func (d *Discache) Put(addr uint64, mem []byte, dis []Ins) {
	ent := &DiscacheEntry{
		Addr: addr,
		Mem:  append([]byte(nil), mem...),
		Dis:  dis,
	}
	d.mu.Lock()
	d.cache[addr] = ent
	d.mu.Unlock()
}

func (d *Discache) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}
