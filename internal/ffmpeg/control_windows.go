//go:build windows

package ffmpeg

import (
	"os"
	"os/exec"
)

func configureProcessGroup(cmd *exec.Cmd) {}

type windowsController struct{}

func newProcessController() ProcessController {
	return &windowsController{}
}

// Pause is not implemented on Windows; there is no job-control signal
// equivalent short of suspending every thread through the debug API.
func (c *windowsController) Pause(pid int) error {
	return ErrUnsupported
}

func (c *windowsController) Resume(pid int) error {
	return ErrUnsupported
}

func (c *windowsController) Cancel(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
