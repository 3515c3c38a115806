package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hybricorn/hybricorn/go/models"
)

// Cmd holds what every subcommand shares: config file and flag overrides,
// output redirection and the logger.
type Cmd struct {
	Config *models.Config
	Flags  *flag.FlagSet
	Log    *zap.Logger

	// Usage is the positional part of the usage line.
	Usage      string
	SetupFlags func() error
	// Main runs after the config is loaded and flags are applied.
	Main func(args []string) error

	Stdout io.Writer
	Stderr io.Writer
}

func NewCmd() *Cmd {
	return &Cmd{
		Flags:  flag.NewFlagSet("cli", flag.ExitOnError),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err and the outermost stack trace attached to it.
func (c *Cmd) PrintError(err error) {
	w := c.Stderr
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	var st stackTracer
	for e := err; e != nil && st == nil; e = errors.Unwrap(e) {
		st, _ = e.(stackTracer)
	}
	if st == nil {
		return
	}
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 2)
	for _, f := range frames {
		for i := range widths {
			if len(f[i]) > widths[i] {
				widths[i] = len(f[i])
			}
		}
	}
	for _, f := range frames {
		for i := range widths {
			if widths[i] > 0 {
				fmt.Fprintf(w, "%s%s | ", f[i], strings.Repeat(" ", widths[i]-len(f[i])))
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}

type overrides struct {
	gdb, telnet, openocd, openocdCfg *string
	entry, exit, fallback            *string
	savestate                        *string
	trace, verbose                   *bool
}

func (o *overrides) apply(fs *flag.FlagSet, config *models.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			config.Target.Gdb = *o.gdb
		case "telnet":
			config.Target.Telnet = *o.telnet
		case "openocd":
			config.Target.OpenOCD = *o.openocd
		case "openocd-cfg":
			config.Target.OpenOCDConfig = *o.openocdCfg
		case "entry":
			config.Handoff.Entry = *o.entry
		case "exit":
			config.Handoff.Exit = *o.exit
		case "fallback":
			config.Handoff.Fallback = *o.fallback
		case "savestate":
			config.SaveState = *o.savestate
		case "trace":
			config.Emulator.Trace = *o.trace
		case "v":
			config.Verbose = *o.verbose
		}
	})
}

// Run parses argv and calls c.Main, returning the process exit code.
func (c *Cmd) Run(argv []string) int {
	fs := c.Flags
	configPath := fs.String("config", "", "YAML config file (default: hybricorn/config.yaml in the user config dir)")
	outfile := fs.String("o", "", "redirect log output to file (default stderr)")
	o := &overrides{
		gdb:        fs.String("target", "", "gdbserver address of the hardware target"),
		telnet:     fs.String("telnet", "", "OpenOCD telnet address used for reset"),
		openocd:    fs.String("openocd", "", "start this OpenOCD binary before resetting"),
		openocdCfg: fs.String("openocd-cfg", "", "board config passed to OpenOCD with -f"),
		entry:      fs.String("entry", "", "symbol where the target hands off to the emulator"),
		exit:       fs.String("exit", "", "symbol where emulation stops"),
		fallback:   fs.String("fallback", "", "exit symbol used if -exit is missing from the binary"),
		savestate:  fs.String("savestate", "", "write the transferred state and measurement to file"),
		trace:      fs.Bool("trace", false, "trace emulated instructions"),
		verbose:    fs.Bool("v", false, "verbose output"),
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			panic(err)
		}
	}
	fs.Usage = func() {
		fmt.Fprintf(c.Stderr, "Usage: %s [options] %s\n\nOptions:\n", argv[0], c.Usage)
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(c.Stderr, flags)
	}
	fs.Parse(argv[1:])

	path := *configPath
	if path == "" {
		path = FindConfig()
	}
	config, err := LoadConfig(path)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	o.apply(fs, config)
	c.Config = config

	if *outfile != "" {
		out, err := os.OpenFile(*outfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			c.PrintError(errors.Wrap(err, "failed to open log output"))
			return 1
		}
		async := models.NewAsyncWriter(out)
		defer async.Close()
		config.Output = async
	}
	var logOut io.Writer = c.Stderr
	if config.Output != nil && config.Output != os.Stderr {
		logOut = config.Output
	}
	c.Log = NewLogger(logOut, config.Verbose)
	defer c.Log.Sync()
	if path != "" {
		c.Log.Debug("loaded config", zap.String("path", path))
	}

	if err := c.Main(fs.Args()); err != nil {
		c.PrintError(err)
		return 1
	}
	return 0
}
