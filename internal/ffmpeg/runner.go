// Package ffmpeg synthesizes encode command lines and runs the external
// encoder with live progress reporting and process lifecycle control.
package ffmpeg

import (
	"context"
	"os/exec"
)

// DefaultCommandRunner executes commands with os/exec. It is the production
// implementation of types.CommandRunner.
type DefaultCommandRunner struct{}

// Run executes the command and returns combined stdout and stderr.
func (r *DefaultCommandRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, cmd, args...)
	return command.CombinedOutput()
}

// Output executes the command and returns stdout only.
func (r *DefaultCommandRunner) Output(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, cmd, args...)
	return command.Output()
}
