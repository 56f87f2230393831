//go:build linux

package proc

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so an
// operator's Ctrl+C reaches only the orchestrator, which then stops children
// in dependency order. Pdeathsig stops the child if the orchestrator dies.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// signalProcess delivers sig to the child's whole process group.
func signalProcess(cmd *exec.Cmd, sig syscall.Signal) error {
	return syscall.Kill(-cmd.Process.Pid, sig)
}
