//go:build windows

package pdfconvert

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {
	// No process-group setup needed on Windows; killProcessTree uses
	// taskkill's own /T flag to take down the whole tree.
}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/PID", strconv.Itoa(cmd.Process.Pid), "/T", "/F")
	_ = kill.Run()
}
