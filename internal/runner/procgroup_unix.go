//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the subject in its own process group so the whole
// tree dies with it on timeout or interrupt.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}
