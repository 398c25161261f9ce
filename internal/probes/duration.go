package probes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/types"
)

// DurationTask reads the container-level duration of a media file.
type DurationTask struct {
	pool        *Pool
	runner      types.CommandRunner
	ffprobePath string
	filePath    string

	result time.Duration
}

// NewDurationTask constructs a duration probe for one file.
func NewDurationTask(pool *Pool, runner types.CommandRunner, ffprobePath, filePath string) *DurationTask {
	return &DurationTask{
		pool:        pool,
		runner:      runner,
		ffprobePath: ffprobePath,
		filePath:    filePath,
	}
}

// Run executes the probe. The result is available afterwards via Result.
func (t *DurationTask) Run(ctx context.Context) error {
	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	output, err := t.runner.Output(ctx, t.ffprobePath,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		t.filePath,
	)
	if err != nil {
		return fmt.Errorf("duration probe failed for %s: %w", t.filePath, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return fmt.Errorf("duration probe returned unparseable output %q: %w", strings.TrimSpace(string(output)), err)
	}
	t.result = time.Duration(seconds * float64(time.Second))
	return nil
}

// Result returns the probed duration. Zero until Run succeeds.
func (t *DurationTask) Result() time.Duration {
	return t.result
}

// Duration is the single-call form.
func Duration(ctx context.Context, pool *Pool, runner types.CommandRunner, ffprobePath, filePath string) (time.Duration, error) {
	task := NewDurationTask(pool, runner, ffprobePath, filePath)
	if err := task.Run(ctx); err != nil {
		return 0, err
	}
	return task.Result(), nil
}
