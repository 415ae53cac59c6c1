//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts cmd in its own process group and kills the whole
// group on cancellation, so children of the shell die with it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
