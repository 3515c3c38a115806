package resolve

import (
	"fmt"
	"os"

	"github.com/hybricorn/hybricorn/go/arch"
	"github.com/hybricorn/hybricorn/go/cmd"
	"github.com/hybricorn/hybricorn/go/handoff"
	"github.com/hybricorn/hybricorn/go/loader"
	"github.com/hybricorn/hybricorn/go/models"
)

func resolve(c *cmd.Cmd, args []string, syms bool, addr uint64) error {
	config := c.Config
	if len(args) > 0 {
		config.Binary = args[0]
	}
	a, err := arch.GetArch(config.Arch)
	if err != nil {
		return err
	}
	elf, err := loader.OpenElf(config.Binary)
	if err != nil {
		return err
	}
	defer elf.Close()

	if addr != 0 {
		name, err := elf.Symbolicate(addr)
		if err != nil {
			return err
		}
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(c.Stdout, "%#x %s\n", addr, models.Demangle(name))
		return nil
	}
	if syms {
		symbols, err := elf.Symbols()
		if err != nil {
			return err
		}
		for _, s := range symbols {
			name, val := models.Demangle(s.Name), s.Value
			if s.Func {
				name += "()"
				val = a.Adjust.Apply(val)
			}
			fmt.Fprintf(c.Stdout, "%#010x %6d %s\n", val, s.Size, name)
		}
		return nil
	}
	o := &handoff.Orchestrator{Arch: a, Handoff: config.Handoff, Symbols: elf, Log: c.Log}
	entry, exit, err := o.Resolve()
	if err != nil {
		return err
	}
	for _, h := range []models.HandoffAddress{entry, exit} {
		fmt.Fprintf(c.Stdout, "%s (%s)\n", h, models.Demangle(h.Symbol))
	}
	return nil
}

func Main(args []string) {
	c := cmd.NewCmd()
	c.Usage = "[binary]"
	syms := c.Flags.Bool("syms", false, "list every symbol instead of the handoff addresses")
	addr := c.Flags.Uint64("addr", 0, "print the symbol+offset containing this address")
	c.Main = func(args []string) error {
		return resolve(c, args, *syms, *addr)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("resolve", "print the handoff addresses of a binary", Main) }
