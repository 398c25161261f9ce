package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/heliosmedia/helios/internal/types"
)

// FingerprintTask computes an acoustic fingerprint of a file's audio via
// the chromaprint tool.
type FingerprintTask struct {
	pool       *Pool
	runner     types.CommandRunner
	fpcalcPath string
	filePath   string

	result string
}

// NewFingerprintTask constructs a fingerprint probe for one file.
func NewFingerprintTask(pool *Pool, runner types.CommandRunner, fpcalcPath, filePath string) *FingerprintTask {
	return &FingerprintTask{
		pool:       pool,
		runner:     runner,
		fpcalcPath: fpcalcPath,
		filePath:   filePath,
	}
}

// Run executes the probe. The fingerprint is returned verbatim, with no
// normalization, so it stays comparable across hosts.
func (t *FingerprintTask) Run(ctx context.Context) error {
	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	output, err := t.runner.Output(ctx, t.fpcalcPath, t.filePath)
	if err != nil {
		return fmt.Errorf("fingerprint probe failed for %s: %w", t.filePath, err)
	}

	fingerprint, err := ParseFingerprintOutput(output)
	if err != nil {
		return err
	}
	t.result = fingerprint
	return nil
}

// ParseFingerprintOutput extracts the FINGERPRINT field from fpcalc's
// key=value output.
func ParseFingerprintOutput(output []byte) (string, error) {
	for _, line := range strings.Split(string(output), "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "FINGERPRINT="); ok && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("no FINGERPRINT field in fpcalc output")
}

// Result returns the fingerprint string. Empty until Run succeeds.
func (t *FingerprintTask) Result() string {
	return t.result
}

// Fingerprint is the single-call form.
func Fingerprint(ctx context.Context, pool *Pool, runner types.CommandRunner, fpcalcPath, filePath string) (string, error) {
	task := NewFingerprintTask(pool, runner, fpcalcPath, filePath)
	if err := task.Run(ctx); err != nil {
		return "", err
	}
	return task.Result(), nil
}
