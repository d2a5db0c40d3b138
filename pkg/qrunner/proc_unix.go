//go:build unix

package qrunner

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the job in its own process group so cancellation
// reaches every child the script spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
