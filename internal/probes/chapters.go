package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/types"
)

// ChapterCue is one chapter marker as a timed cue.
type ChapterCue struct {
	Title string
	Start time.Duration
	End   time.Duration
}

// ExtractChaptersTask reads embedded chapter markers and writes them as a
// WebVTT cue file.
type ExtractChaptersTask struct {
	pool        *Pool
	runner      types.CommandRunner
	ffprobePath string
	filePath    string
	outputPath  string

	result []ChapterCue
}

// NewExtractChaptersTask constructs a chapter extraction probe. The cues
// are written to outputPath on success.
func NewExtractChaptersTask(pool *Pool, runner types.CommandRunner, ffprobePath, filePath, outputPath string) *ExtractChaptersTask {
	return &ExtractChaptersTask{
		pool:        pool,
		runner:      runner,
		ffprobePath: ffprobePath,
		filePath:    filePath,
		outputPath:  outputPath,
	}
}

// Run probes the chapters and writes the WebVTT file. A file without
// chapters yields an empty cue list and no output file.
func (t *ExtractChaptersTask) Run(ctx context.Context) error {
	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	output, err := t.runner.Output(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_chapters",
		t.filePath,
	)
	if err != nil {
		return fmt.Errorf("chapter probe failed for %s: %w", t.filePath, err)
	}

	cues, err := ParseChapterOutput(output)
	if err != nil {
		return err
	}
	t.result = cues
	if len(cues) == 0 {
		return nil
	}

	return os.WriteFile(t.outputPath, []byte(FormatChapterCues(cues)), 0o644)
}

// ParseChapterOutput converts ffprobe's chapter JSON into cues. Chapters
// without a title fall back to a numbered name.
func ParseChapterOutput(output []byte) ([]ChapterCue, error) {
	var doc struct {
		Chapters []struct {
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
			Tags      struct {
				Title string `json:"title"`
			} `json:"tags"`
		} `json:"chapters"`
	}
	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, fmt.Errorf("chapter probe returned malformed output: %w", err)
	}

	cues := make([]ChapterCue, 0, len(doc.Chapters))
	for i, ch := range doc.Chapters {
		start, err1 := strconv.ParseFloat(ch.StartTime, 64)
		end, err2 := strconv.ParseFloat(ch.EndTime, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		title := ch.Tags.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		cues = append(cues, ChapterCue{
			Title: title,
			Start: time.Duration(start * float64(time.Second)),
			End:   time.Duration(end * float64(time.Second)),
		})
	}
	return cues, nil
}

// FormatChapterCues renders cues as a WebVTT document.
func FormatChapterCues(cues []ChapterCue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n", vttTimestamp(cue.Start), vttTimestamp(cue.End), cue.Title)
	}
	return b.String()
}

func vttTimestamp(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	millis := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

// Result returns the extracted cues. Nil until Run succeeds.
func (t *ExtractChaptersTask) Result() []ChapterCue {
	return t.result
}

// ExtractChapters is the single-call form.
func ExtractChapters(ctx context.Context, pool *Pool, runner types.CommandRunner, ffprobePath, filePath, outputPath string) ([]ChapterCue, error) {
	task := NewExtractChaptersTask(pool, runner, ffprobePath, filePath, outputPath)
	if err := task.Run(ctx); err != nil {
		return nil, err
	}
	return task.Result(), nil
}
