package probes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// Sprite sheet geometry. Each sheet tiles gridCols x gridRows thumbnails.
const (
	spriteInterval = 10 * time.Second
	thumbWidth     = 160
	thumbHeight    = 90
	gridCols       = 8
	gridRows       = 8
)

// SpriteSheetTask extracts periodic thumbnails, tiles them into sprite
// sheets and writes a WebVTT index mapping time ranges to sheet regions.
type SpriteSheetTask struct {
	logger     logger.Logger
	pool       *Pool
	runner     types.CommandRunner
	ffmpegPath string
	filePath   string
	outputDir  string
	duration   time.Duration

	vttPath string
}

// NewSpriteSheetTask constructs a sprite generation probe writing sheets
// and the index into outputDir.
func NewSpriteSheetTask(log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, filePath, outputDir string, duration time.Duration) *SpriteSheetTask {
	return &SpriteSheetTask{
		logger:     log.Named("sprites"),
		pool:       pool,
		runner:     runner,
		ffmpegPath: ffmpegPath,
		filePath:   filePath,
		outputDir:  outputDir,
		duration:   duration,
	}
}

// Run extracts the thumbnails into a working folder, tiles them and writes
// sprites.vtt. The working folder is removed on success and kept on
// failure for inspection.
func (t *SpriteSheetTask) Run(ctx context.Context) error {
	if t.duration <= 0 {
		return fmt.Errorf("sprite generation requires a known duration")
	}
	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	frameDir := filepath.Join(t.outputDir, "frames")
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return fmt.Errorf("failed to create frame folder: %w", err)
	}

	_, err := t.runner.Run(ctx, t.ffmpegPath,
		"-hide_banner", "-y",
		"-i", t.filePath,
		"-vf", fmt.Sprintf("fps=1/%d,scale=%d:%d", int(spriteInterval.Seconds()), thumbWidth, thumbHeight),
		filepath.Join(frameDir, "%05d.jpg"),
	)
	if err != nil {
		return fmt.Errorf("thumbnail extraction failed for %s: %w", t.filePath, err)
	}

	frameCount, err := countFrames(frameDir)
	if err != nil {
		return err
	}
	if frameCount == 0 {
		return fmt.Errorf("thumbnail extraction produced no frames for %s", t.filePath)
	}

	perSheet := gridCols * gridRows
	sheetCount := (frameCount + perSheet - 1) / perSheet
	for sheet := 0; sheet < sheetCount; sheet++ {
		_, err := t.runner.Run(ctx, t.ffmpegPath,
			"-hide_banner", "-y",
			"-start_number", fmt.Sprintf("%d", sheet*perSheet+1),
			"-i", filepath.Join(frameDir, "%05d.jpg"),
			"-frames:v", "1",
			"-vf", fmt.Sprintf("tile=%dx%d", gridCols, gridRows),
			filepath.Join(t.outputDir, fmt.Sprintf("sprite_%04d.jpg", sheet)),
		)
		if err != nil {
			return fmt.Errorf("sprite tiling failed for sheet %d: %w", sheet, err)
		}
	}

	vttPath := filepath.Join(t.outputDir, "sprites.vtt")
	if err := os.WriteFile(vttPath, []byte(FormatSpriteIndex(frameCount, t.duration)), 0o644); err != nil {
		return fmt.Errorf("failed to write sprite index: %w", err)
	}
	t.vttPath = vttPath

	if err := os.RemoveAll(frameDir); err != nil {
		t.logger.Warn("failed to remove frame folder", "path", frameDir, "error", err)
	}
	t.logger.Info("sprite sheets generated", "file", t.filePath, "frames", frameCount, "sheets", sheetCount)
	return nil
}

// FormatSpriteIndex renders the WebVTT document mapping each interval to
// a region of a sprite sheet via a media fragment.
func FormatSpriteIndex(frameCount int, duration time.Duration) string {
	perSheet := gridCols * gridRows

	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i := 0; i < frameCount; i++ {
		start := spriteInterval * time.Duration(i)
		end := start + spriteInterval
		if end > duration {
			end = duration
		}
		if start >= end {
			break
		}

		pos := i % perSheet
		x := (pos % gridCols) * thumbWidth
		y := (pos / gridCols) * thumbHeight
		fmt.Fprintf(&b, "\n%s --> %s\nsprite_%04d.jpg#xywh=%d,%d,%d,%d\n",
			vttTimestamp(start), vttTimestamp(end), i/perSheet, x, y, thumbWidth, thumbHeight)
	}
	return b.String()
}

func countFrames(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate frames: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jpg") {
			count++
		}
	}
	return count, nil
}

// IndexPath returns the written WebVTT index path. Empty until Run
// succeeds.
func (t *SpriteSheetTask) IndexPath() string {
	return t.vttPath
}

// GenerateSprites is the single-call form.
func GenerateSprites(ctx context.Context, log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, filePath, outputDir string, duration time.Duration) (string, error) {
	task := NewSpriteSheetTask(log, pool, runner, ffmpegPath, filePath, outputDir, duration)
	if err := task.Run(ctx); err != nil {
		return "", err
	}
	return task.IndexPath(), nil
}
