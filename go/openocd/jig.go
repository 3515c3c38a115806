package openocd

import (
	"context"
	"net"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Jig runs an OpenOCD server for the duration of a handoff run.
type Jig struct {
	Path   string
	Config string
	// Addr is polled until OpenOCD accepts connections.
	Addr string
	Log  *zap.Logger

	cmd  *exec.Cmd
	done chan error
}

func (j *Jig) Start(ctx context.Context) error {
	if j.Log == nil {
		j.Log = zap.NewNop()
	}
	path, err := exec.LookPath(j.Path)
	if err != nil {
		return errors.Wrapf(err, "openocd unavailable")
	}
	j.cmd = exec.Command(path, "-f", j.Config)
	setProcessGroup(j.cmd)
	if err := j.cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start openocd")
	}
	j.done = make(chan error, 1)
	go func() { j.done <- j.cmd.Wait() }()
	j.Log.Info("started openocd", zap.Int("pid", j.cmd.Process.Pid), zap.String("config", j.Config))

	if err := j.waitReady(ctx); err != nil {
		j.Stop()
		return err
	}
	return nil
}

func (j *Jig) waitReady(ctx context.Context) error {
	for i := time.Duration(100); ; i += 100 {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", j.Addr)
		if err == nil {
			c.Close()
			return nil
		}
		select {
		case err := <-j.done:
			j.done <- err
			return errors.Errorf("openocd exited early: %v", err)
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for openocd on %s", j.Addr)
		case <-time.After(i * time.Millisecond):
		}
	}
}

// Stop terminates OpenOCD and everything it spawned. It is safe to call twice.
func (j *Jig) Stop() error {
	if j.cmd == nil || j.cmd.Process == nil {
		return nil
	}
	select {
	case err := <-j.done:
		j.done <- err
		return nil
	default:
	}
	if err := killProcessGroup(j.cmd.Process.Pid); err != nil {
		return errors.Wrap(err, "failed to stop openocd")
	}
	select {
	case err := <-j.done:
		j.done <- err
	case <-time.After(5 * time.Second):
		j.cmd.Process.Kill()
	}
	j.Log.Info("stopped openocd")
	return nil
}
