// Package probes implements the external-tool probe tasks: duration,
// crop detection, audio fingerprinting, chapter and font extraction,
// subtitle OCR conversion and sprite sheet generation.
//
// All probes acquire a permit from a shared process-wide pool before
// invoking a tool, so a burst of probe requests cannot saturate the host.
package probes

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/semaphore"
)

const (
	minPoolSize = 2
	maxPoolSize = 16
)

// Pool bounds concurrent probe invocations with a counting permit set.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a permit pool of the given size. A size of zero sizes
// the pool from the host's logical core count, clamped to [2, 16].
func NewPool(size int) *Pool {
	if size <= 0 {
		size = detectPoolSize()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

func detectPoolSize() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores < minPoolSize {
		return minPoolSize
	}
	if cores > maxPoolSize {
		return maxPoolSize
	}
	return cores
}

// Size returns the pool's permit count.
func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until a permit is available or the context ends.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("probe permit acquisition failed: %w", err)
	}
	return nil
}

// Release returns a permit. Callers must release on every exit path.
func (p *Pool) Release() {
	p.sem.Release(1)
}
