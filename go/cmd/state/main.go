package state

import (
	"fmt"
	"os"
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/hybricorn/hybricorn/go/arch"
	"github.com/hybricorn/hybricorn/go/cmd"
	"github.com/hybricorn/hybricorn/go/models"
)

func load(path string) (*models.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open state file")
	}
	defer f.Close()
	return models.LoadState(f)
}

func show(c *cmd.Cmd, args []string, mem bool) error {
	path := c.Config.SaveState
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		c.Flags.Usage()
		return errors.New("no state file given")
	}
	st, err := load(path)
	if err != nil {
		return err
	}
	bits := 32
	if a, err := arch.GetArch(st.Arch); err == nil {
		bits = a.Bits
	}
	w := c.Stdout
	fmt.Fprintf(w, "arch: %s\n", st.Arch)
	fmt.Fprintf(w, "%s\n%s\n", st.Entry, st.Exit)
	if st.Elapsed >= 0 {
		fmt.Fprintf(w, "elapsed time = %f sec\n", st.Elapsed.Seconds())
	}
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	fmt.Fprint(w, models.Diff(st.Regs, st.Regs, bits).String(color))

	if !mem {
		for _, m := range st.Memory {
			fmt.Fprintf(w, "memory %s %#x+%#x\n", m.Name, m.Addr, len(m.Data))
		}
		return nil
	}
	dumps := append([]models.MemoryDump(nil), st.Memory...)
	sort.Slice(dumps, func(i, j int) bool {
		return sortorder.NaturalLess(dumps[i].Name, dumps[j].Name)
	})
	for _, m := range dumps {
		fmt.Fprintf(w, "\nmemory %s:\n", m.Name)
		for _, line := range models.HexDump(m.Addr, m.Data, bits) {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func Main(args []string) {
	c := cmd.NewCmd()
	c.Usage = "<state file>"
	mem := c.Flags.Bool("mem", false, "hex dump transferred memory")
	c.Main = func(args []string) error {
		return show(c, args, *mem)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("state", "print a state file written by run -savestate", Main) }
