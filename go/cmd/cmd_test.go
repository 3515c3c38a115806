package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybricorn/hybricorn/go/models"
)

const testConfig = `
binary: fw/nucleo.elf
arch: cortex-m4
target:
  gdb: 10.0.0.2:3333
  telnet: 10.0.0.2:4444
  openocd_config: board.cfg
  dial_timeout: 2s
emulator:
  memory:
    - name: rom
      address: 0x08000000
      size: 0x80000
      permissions: rx
      file: fw/nucleo.bin
handoff:
  entry: main
  exit: done
  exit_timeout: 1m
forward:
  - name: gpio
    address: 0x40020000
    size: 0x400
    access: [read, write]
`

func writeConfig(t *testing.T, doc string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, testConfig)
	dir := filepath.Dir(path)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "fw/nucleo.elf"), c.Binary)
	assert.Equal(t, "cortex-m4", c.Arch)
	assert.Equal(t, "10.0.0.2:3333", c.Target.Gdb)
	assert.Equal(t, filepath.Join(dir, "board.cfg"), c.Target.OpenOCDConfig)
	assert.Equal(t, 2*time.Second, c.Target.DialTimeout)
	assert.Equal(t, 1024, c.Target.MaxPacket, "unset keys keep their defaults")

	require.Len(t, c.Emulator.Memory, 1, "lists replace the default list")
	assert.Equal(t, uint64(0x08000000), c.Emulator.Memory[0].Addr)
	assert.Equal(t, filepath.Join(dir, "fw/nucleo.bin"), c.Emulator.Memory[0].File)

	assert.Equal(t, "done", c.Handoff.Exit)
	assert.Equal(t, "__libc_fini_array", c.Handoff.Fallback)
	assert.Equal(t, time.Minute, c.Handoff.ExitTimeout)
	require.Len(t, c.Forward, 1)
	assert.Equal(t, models.AccessRead|models.AccessWrite, c.Forward[0].Access)
	require.NoError(t, c.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultConfig().Target, c.Target)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "binray: typo.elf\n"))
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))

	_, err = LoadConfig(writeConfig(t, "forward:\n  - name: x\n    access: [teleport]\n"))
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func newTestCmd(main func(c *Cmd, args []string) error) (*Cmd, *bytes.Buffer) {
	var stderr bytes.Buffer
	c := NewCmd()
	c.Stderr = &stderr
	c.Stdout = &bytes.Buffer{}
	c.Main = func(args []string) error { return main(c, args) }
	return c, &stderr
}

func TestRunOverrides(t *testing.T) {
	path := writeConfig(t, testConfig)
	var got *models.Config
	var rest []string
	c, _ := newTestCmd(func(c *Cmd, args []string) error {
		got, rest = c.Config, args
		return nil
	})
	code := c.Run([]string{"hybricorn run", "-config", path, "-entry", "reset_handler", "-target", "localhost:3334", "-trace", "-v", "fw.elf"})
	require.Equal(t, 0, code)
	assert.Equal(t, "reset_handler", got.Handoff.Entry)
	assert.Equal(t, "done", got.Handoff.Exit, "flags not given leave the file value alone")
	assert.Equal(t, "localhost:3334", got.Target.Gdb)
	assert.True(t, got.Emulator.Trace)
	assert.True(t, got.Verbose)
	assert.Equal(t, []string{"fw.elf"}, rest)
}

func TestRunError(t *testing.T) {
	path := writeConfig(t, testConfig)
	c, stderr := newTestCmd(func(c *Cmd, args []string) error {
		return errors.Wrap(models.ErrSymbolNotFound, "main")
	})
	code := c.Run([]string{"hybricorn run", "-config", path})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error: main: symbol not found")
	assert.Contains(t, stderr.String(), "cmd_test.go", "stack trace is printed")
}

func TestRunLogFile(t *testing.T) {
	path := writeConfig(t, testConfig)
	logPath := filepath.Join(t.TempDir(), "run.log")
	c, stderr := newTestCmd(func(c *Cmd, args []string) error {
		c.Log.Info("transition")
		c.Log.Debug("hidden")
		return nil
	})
	require.Equal(t, 0, c.Run([]string{"hybricorn run", "-config", path, "-o", logPath}))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "transition")
	assert.NotContains(t, string(data), "hidden", "debug needs -v")
	assert.Empty(t, stderr.String())
}
