//go:build !windows

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the encoder in its own process group so a
// cancel can kill the whole tree, filter subprocesses included.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

type unixController struct{}

func newProcessController() ProcessController {
	return &unixController{}
}

func (c *unixController) Pause(pid int) error {
	return syscall.Kill(pid, syscall.SIGSTOP)
}

func (c *unixController) Resume(pid int) error {
	return syscall.Kill(pid, syscall.SIGCONT)
}

// Cancel kills the process group. The negative pid addresses every process
// in the group started via Setpgid.
func (c *unixController) Cancel(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
