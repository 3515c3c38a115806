package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/models"
)

var machineMap = map[elf.Machine]string{
	elf.EM_386:     "x86",
	elf.EM_X86_64:  "x86_64",
	elf.EM_ARM:     "arm",
	elf.EM_AARCH64: "arm64",
	elf.EM_MIPS:    "mips",
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r, len(elfMagic)), elfMagic)
}

// ElfLoader reads the symbol table and loadable segments of a firmware ELF.
type ElfLoader struct {
	Path string

	file     *elf.File
	closer   io.Closer
	symCache []models.Symbol
}

func OpenElf(path string) (*ElfLoader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open binary")
	}
	e, err := NewElfLoader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}
	e.Path = path
	e.closer = f
	return e, nil
}

func NewElfLoader(r io.ReaderAt) (*ElfLoader, error) {
	if !MatchElf(r) {
		return nil, errors.New("not an ELF file")
	}
	file, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ELF")
	}
	return &ElfLoader{file: file}, nil
}

func (e *ElfLoader) Close() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

func (e *ElfLoader) Arch() string {
	if name, ok := machineMap[e.file.Machine]; ok {
		return name
	}
	return e.file.Machine.String()
}

func (e *ElfLoader) Entry() uint64 {
	return e.file.Entry
}

// Symbols returns named function and object symbols from .symtab and .dynsym in natural name order.
func (e *ElfLoader) Symbols() ([]models.Symbol, error) {
	if e.symCache != nil {
		return e.symCache, nil
	}
	syms, err := e.file.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, errors.Wrap(err, "failed to read symbol table")
	}
	dyn, derr := e.file.DynamicSymbols()
	if derr != nil && derr != elf.ErrNoSymbols {
		return nil, errors.Wrap(derr, "failed to read dynamic symbol table")
	}
	syms = append(syms, dyn...)
	ret := make([]models.Symbol, 0, len(syms))
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if s.Name == "" || (typ != elf.STT_FUNC && typ != elf.STT_OBJECT && typ != elf.STT_NOTYPE) {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		ret = append(ret, models.Symbol{
			Name:  s.Name,
			Value: s.Value,
			Size:  s.Size,
			Func:  typ == elf.STT_FUNC,
		})
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return sortorder.NaturalLess(ret[i].Name, ret[j].Name)
	})
	e.symCache = ret
	return ret, nil
}

// Resolve returns name's address exactly as the symbol table records it.
// Thumb interworking bits and similar artifacts are left for the caller to adjust.
func (e *ElfLoader) Resolve(name string) (uint64, error) {
	syms, err := e.Symbols()
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Value, nil
		}
	}
	return 0, errors.Wrapf(models.ErrSymbolNotFound, "%s", name)
}

// Resolve opens path and looks up a single symbol.
func Resolve(path, name string) (uint64, error) {
	e, err := OpenElf(path)
	if err != nil {
		return 0, err
	}
	defer e.Close()
	return e.Resolve(name)
}

// Symbolicate names addr as symbol+offset using the closest containing symbol.
func (e *ElfLoader) Symbolicate(addr uint64) (string, error) {
	syms, err := e.Symbols()
	if err != nil {
		return "", err
	}
	var best *models.Symbol
	for i, s := range syms {
		// thumb function symbols carry bit 0
		start := s.Value
		if s.Func && e.file.Machine == elf.EM_ARM {
			start &^= 1
		}
		if addr < start || (s.Size > 0 && addr-start >= s.Size) || (s.Size == 0 && addr != start) {
			continue
		}
		if best == nil || start > best.Value {
			sym := syms[i]
			sym.Value = start
			best = &sym
		}
	}
	if best == nil {
		return "", nil
	}
	if addr == best.Value {
		return best.Name, nil
	}
	return fmt.Sprintf("%s+0x%x", best.Name, addr-best.Value), nil
}

// Segments returns the file-backed bytes of every PT_LOAD segment at its load address,
// which is where initialized data sits in flash before startup code copies it.
func (e *ElfLoader) Segments() ([]Segment, error) {
	ret := make([]Segment, 0, len(e.file.Progs))
	for i, prog := range e.file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, errors.Wrapf(err, "failed to read segment %d", i)
		}
		prot := 0
		if prog.Flags&elf.PF_R != 0 {
			prot |= models.PROT_READ
		}
		if prog.Flags&elf.PF_W != 0 {
			prot |= models.PROT_WRITE
		}
		if prog.Flags&elf.PF_X != 0 {
			prot |= models.PROT_EXEC
		}
		ret = append(ret, Segment{
			Name: fmt.Sprintf("load%d", i),
			Addr: prog.Paddr,
			Data: data,
			Prot: prot,
		})
	}
	return ret, nil
}
