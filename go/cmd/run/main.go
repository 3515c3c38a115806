package run

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/arch"
	"github.com/hybricorn/hybricorn/go/cmd"
	"github.com/hybricorn/hybricorn/go/cpu/unicorn"
	"github.com/hybricorn/hybricorn/go/debug"
	"github.com/hybricorn/hybricorn/go/forward"
	"github.com/hybricorn/hybricorn/go/handoff"
	"github.com/hybricorn/hybricorn/go/loader"
	"github.com/hybricorn/hybricorn/go/models"
	"github.com/hybricorn/hybricorn/go/openocd"
	"github.com/hybricorn/hybricorn/go/target"
)

// flashImage backs the region holding the ELF entry point with the ELF itself
// when the config did not name an image for it.
func flashImage(config *models.Config, elf *loader.ElfLoader) {
	entry := elf.Entry()
	for i := range config.Emulator.Memory {
		m := &config.Emulator.Memory[i]
		if m.Contains(entry) && m.File == "" {
			m.File = config.Binary
			return
		}
	}
}

func ranges(config *models.Config) (forward.Ranges, error) {
	if len(config.Forward) == 0 {
		return forward.Defaults(), nil
	}
	return forward.Build(config.Forward...)
}

func saveState(path string, st *models.State) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create state file")
	}
	if err := models.SaveState(f, st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func run(c *cmd.Cmd, args []string, serve string) error {
	config := c.Config
	if len(args) > 0 {
		config.Binary = args[0]
	}
	if err := config.Validate(); err != nil {
		return err
	}
	a, err := arch.GetArch(config.Arch)
	if err != nil {
		return err
	}
	fwd, err := ranges(config)
	if err != nil {
		return err
	}
	elf, err := loader.OpenElf(config.Binary)
	if err != nil {
		return err
	}
	defer elf.Close()
	flashImage(config, elf)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log := c.Log
	if config.Target.OpenOCD != "" {
		jig := &openocd.Jig{
			Path:   config.Target.OpenOCD,
			Config: config.Target.OpenOCDConfig,
			Addr:   config.Target.Telnet,
			Log:    log.Named("openocd"),
		}
		if err := jig.Start(ctx); err != nil {
			return err
		}
		defer jig.Stop()
	}

	o := &handoff.Orchestrator{
		Arch:     a,
		Handoff:  config.Handoff,
		Ranges:   fwd,
		Transfer: config.Transfer,
		Reset:    &openocd.Resetter{Addr: config.Target.Telnet, Log: log.Named("openocd")},
		Symbols:  elf,
		NewTarget: func(ctx context.Context) (models.Backend, error) {
			t, err := target.Dial(ctx, config.Target, a, log)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
		NewEmulator: func(r forward.Ranges, remote models.Backend) (models.Backend, error) {
			mem, _ := remote.(models.MemoryBackend)
			e, err := unicorn.New(unicorn.Config{
				Arch:   a,
				Memory: config.Emulator.Memory,
				Ranges: r,
				Remote: mem,
				Trace:  config.Emulator.Trace,
				Log:    log,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		},
		Log: log.Named("handoff"),
	}
	if serve != "" {
		o.OnExit = func(ctx context.Context, emu models.Backend) error {
			ln, err := net.Listen("tcp", serve)
			if err != nil {
				return errors.Wrap(err, "gdbstub listen failed")
			}
			log.Info("waiting for gdb", zap.String("addr", ln.Addr().String()))
			return debug.NewGdbstub(emu, a, log.Named("gdbstub")).Serve(ctx, ln)
		}
	}

	res, err := o.Run(ctx)
	if res != nil {
		fmt.Fprintf(c.Stdout, "elapsed time = %f sec\n", res.Seconds())
		if config.SaveState != "" {
			if serr := saveState(config.SaveState, res.State(a)); serr != nil {
				return serr
			}
			log.Info("saved state", zap.String("path", config.SaveState))
		}
	}
	return err
}

func Main(args []string) {
	c := cmd.NewCmd()
	c.Usage = "[binary]"
	serve := c.Flags.String("serve", "", "serve the emulator to gdb on this address once the exit point is reached")
	c.Main = func(args []string) error {
		return run(c, args, *serve)
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("run", "hand a program off from the target to the emulator and time it", Main) }
