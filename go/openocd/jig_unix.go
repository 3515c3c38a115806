//go:build unix

package openocd

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return err
	}
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
