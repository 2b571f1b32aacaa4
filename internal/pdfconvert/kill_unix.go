//go:build !windows

package pdfconvert

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so
// killProcessTree can take down soffice's helper processes along with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
