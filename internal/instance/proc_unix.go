//go:build !windows

package instance

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so signals
// aimed at the supervisor do not reach it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the child's process group.
func killGroup(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
