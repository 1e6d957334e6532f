//go:build unix

package tools

import (
	"os/exec"
	"syscall"
)

// setProcAttr spawns the command in its own process group so a timeout kill
// can take the whole tree down, not just the direct sh child.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup SIGKILLs the process group started by setProcAttr.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
