package probes

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// cropSections is the number of evenly spaced positions sampled across the
// file. Individual sections can report noisy rectangles (dark scenes,
// fades); the majority vote across sections absorbs them.
const cropSections = 10

// cropFramesPerSection bounds how many frames each section analyzes.
const cropFramesPerSection = 30

var cropPattern = regexp.MustCompile(`crop=(\d+:\d+:\d+:\d+)`)

// CropDetectTask finds the dominant crop rectangle of a file by sampling
// multiple sections and voting.
type CropDetectTask struct {
	logger     logger.Logger
	pool       *Pool
	runner     types.CommandRunner
	ffmpegPath string
	filePath   string
	duration   time.Duration

	result string
}

// NewCropDetectTask constructs a crop probe. The file's total duration
// must be known so sample offsets can be spaced across it.
func NewCropDetectTask(log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, filePath string, duration time.Duration) *CropDetectTask {
	return &CropDetectTask{
		logger:     log.Named("cropdetect"),
		pool:       pool,
		runner:     runner,
		ffmpegPath: ffmpegPath,
		filePath:   filePath,
		duration:   duration,
	}
}

// Run samples the sections in parallel and tallies the reported
// rectangles. Sections that fail are skipped rather than failing the vote,
// as long as at least one section reports.
func (t *CropDetectTask) Run(ctx context.Context) error {
	if t.duration <= 0 {
		return fmt.Errorf("crop detection requires a known duration")
	}

	votes := make(map[string]int)
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	step := t.duration / (cropSections + 1)
	for i := 1; i <= cropSections; i++ {
		offset := step * time.Duration(i)
		group.Go(func() error {
			crop, err := t.probeSection(groupCtx, offset)
			if err != nil {
				t.logger.Debug("crop section probe failed", "offset", offset, "error", err)
				return nil
			}
			mu.Lock()
			votes[crop]++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	winner, count := majority(votes)
	if count == 0 {
		return fmt.Errorf("crop detection produced no usable samples for %s", t.filePath)
	}
	t.logger.Debug("crop vote complete", "crop", winner, "votes", count, "sections", cropSections)
	t.result = winner
	return nil
}

func (t *CropDetectTask) probeSection(ctx context.Context, offset time.Duration) (string, error) {
	if err := t.pool.Acquire(ctx); err != nil {
		return "", err
	}
	defer t.pool.Release()

	output, err := t.runner.Run(ctx, t.ffmpegPath,
		"-hide_banner",
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", t.filePath,
		"-vframes", fmt.Sprintf("%d", cropFramesPerSection),
		"-vf", "cropdetect=24:16:0",
		"-f", "null", "-",
	)
	if err != nil {
		return "", err
	}
	return ParseCropOutput(output)
}

// ParseCropOutput extracts the last crop rectangle the filter reported.
// The filter refines its estimate as frames accumulate, so the last line
// is the section's best answer.
func ParseCropOutput(output []byte) (string, error) {
	matches := cropPattern.FindAllSubmatch(output, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no crop rectangle in filter output")
	}
	return string(matches[len(matches)-1][1]), nil
}

// Result returns the winning w:h:x:y rectangle. Empty until Run succeeds.
func (t *CropDetectTask) Result() string {
	return t.result
}

// CropDetect is the single-call form.
func CropDetect(ctx context.Context, log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, filePath string, duration time.Duration) (string, error) {
	task := NewCropDetectTask(log, pool, runner, ffmpegPath, filePath, duration)
	if err := task.Run(ctx); err != nil {
		return "", err
	}
	return task.Result(), nil
}

func majority(votes map[string]int) (string, int) {
	var winner string
	var best int
	for crop, count := range votes {
		if count > best || (count == best && crop < winner) {
			winner = crop
			best = count
		}
	}
	return winner, best
}
