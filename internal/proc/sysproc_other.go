//go:build !linux

package proc

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr is a no-op on non-Linux platforms.
func configureSysProcAttr(_ *exec.Cmd) {}

func signalProcess(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
