package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// FontEntry is one extracted attachment in the manifest.
type FontEntry struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// ExtractFontsTask dumps embedded font attachments into a folder and
// writes a manifest describing them.
type ExtractFontsTask struct {
	logger      logger.Logger
	pool        *Pool
	runner      types.CommandRunner
	ffmpegPath  string
	ffprobePath string
	filePath    string
	destDir     string

	result []FontEntry
}

// NewExtractFontsTask constructs a font extraction probe writing into
// destDir.
func NewExtractFontsTask(log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, ffprobePath, filePath, destDir string) *ExtractFontsTask {
	return &ExtractFontsTask{
		logger:      log.Named("fonts"),
		pool:        pool,
		runner:      runner,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		filePath:    filePath,
		destDir:     destDir,
	}
}

// Run lists the attachment streams, dumps them all into the destination
// folder and writes fonts.json alongside. A file without attachments
// yields an empty manifest and no dump invocation.
func (t *ExtractFontsTask) Run(ctx context.Context) error {
	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	output, err := t.runner.Output(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "t",
		t.filePath,
	)
	if err != nil {
		return fmt.Errorf("attachment probe failed for %s: %w", t.filePath, err)
	}

	entries, err := ParseAttachmentOutput(output)
	if err != nil {
		return err
	}
	t.result = entries
	if len(entries) == 0 {
		return nil
	}

	if err := os.MkdirAll(t.destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create font folder %s: %w", t.destDir, err)
	}

	// Dump each attachment to an explicit path. The dump invocation exits
	// non-zero because no real output is requested; presence of the file
	// decides success.
	args := []string{"-hide_banner", "-y"}
	for i, entry := range entries {
		args = append(args,
			fmt.Sprintf("-dump_attachment:t:%d", i),
			filepath.Join(t.destDir, entry.FileName),
		)
	}
	args = append(args, "-i", t.filePath, "-t", "0", "-f", "null", "-")
	_, dumpErr := t.runner.Run(ctx, t.ffmpegPath, args...)

	missing := 0
	for _, entry := range entries {
		if _, statErr := os.Stat(filepath.Join(t.destDir, entry.FileName)); statErr != nil {
			missing++
		}
	}
	if missing == len(entries) {
		return fmt.Errorf("attachment dump wrote no files for %s: %w", t.filePath, dumpErr)
	}
	if missing > 0 {
		t.logger.Warn("some attachments failed to dump", "file", t.filePath, "missing", missing, "total", len(entries))
	}

	manifest, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(t.destDir, "fonts.json"), manifest, 0o644)
}

// ParseAttachmentOutput reads attachment stream descriptions from probe
// JSON into manifest entries. Streams without a filename tag are skipped.
func ParseAttachmentOutput(output []byte) ([]FontEntry, error) {
	var doc struct {
		Streams []struct {
			Tags struct {
				FileName string `json:"filename"`
				MimeType string `json:"mimetype"`
			} `json:"tags"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, fmt.Errorf("attachment probe returned malformed output: %w", err)
	}

	var entries []FontEntry
	for _, stream := range doc.Streams {
		if stream.Tags.FileName == "" {
			continue
		}
		mime := stream.Tags.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		entries = append(entries, FontEntry{FileName: stream.Tags.FileName, MimeType: mime})
	}
	return entries, nil
}

// Result returns the manifest entries. Nil until Run succeeds.
func (t *ExtractFontsTask) Result() []FontEntry {
	return t.result
}

// ExtractFonts is the single-call form.
func ExtractFonts(ctx context.Context, log logger.Logger, pool *Pool, runner types.CommandRunner, ffmpegPath, ffprobePath, filePath, destDir string) ([]FontEntry, error) {
	task := NewExtractFontsTask(log, pool, runner, ffmpegPath, ffprobePath, filePath, destDir)
	if err := task.Run(ctx); err != nil {
		return nil, err
	}
	return task.Result(), nil
}
