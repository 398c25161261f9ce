package probes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/events"
	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// ocrCueGap is the display window given to a recognized frame when the
// next recognition does not arrive sooner.
const ocrCueGap = 3 * time.Second

var (
	ocrTimePattern = regexp.MustCompile(`pts_time:([\d.]+)`)
	ocrTextPrefix  = "lavfi.ocr.text="
)

// SubtitleCue is one recognized subtitle with its display window.
type SubtitleCue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// ConvertSubtitleTask converts an image-based subtitle stream to timed
// text by running it through the OCR filter.
type ConvertSubtitleTask struct {
	logger      logger.Logger
	pool        *Pool
	runner      types.CommandRunner
	bus         events.Publisher
	ffmpegPath  string
	filePath    string
	streamIndex int
	language    string
	tessdataDir string
	tessdataURL string
	outputPath  string

	result []SubtitleCue
	// skipped is set when the OCR model is unavailable and the task
	// degraded to a no-op.
	skipped bool
}

// NewConvertSubtitleTask constructs an OCR conversion probe for one
// subtitle stream. streamIndex is the per-type ordinal of the stream.
func NewConvertSubtitleTask(log logger.Logger, pool *Pool, runner types.CommandRunner, bus events.Publisher, ffmpegPath, filePath string, streamIndex int, language, tessdataDir, tessdataURL, outputPath string) *ConvertSubtitleTask {
	return &ConvertSubtitleTask{
		logger:      log.Named("subtitle-ocr"),
		pool:        pool,
		runner:      runner,
		bus:         bus,
		ffmpegPath:  ffmpegPath,
		filePath:    filePath,
		streamIndex: streamIndex,
		language:    language,
		tessdataDir: tessdataDir,
		tessdataURL: tessdataURL,
		outputPath:  outputPath,
	}
}

// Run ensures the OCR language model is present, runs the recognition
// filter over the subtitle stream and writes the recognized cues as an
// SRT file. A missing model that cannot be downloaded degrades to a skip
// rather than an error.
func (t *ConvertSubtitleTask) Run(ctx context.Context) error {
	t.publishStatus("started")

	if err := t.ensureModel(ctx); err != nil {
		t.logger.Warn("OCR model unavailable, skipping subtitle conversion", "language", t.language, "error", err)
		t.skipped = true
		t.publishStatus("skipped")
		return nil
	}

	if err := t.pool.Acquire(ctx); err != nil {
		return err
	}
	defer t.pool.Release()

	filter := fmt.Sprintf(
		"[0:s:%d]scale,ocr=datapath=%s:language=%s,metadata=mode=print",
		t.streamIndex, t.tessdataDir, t.language,
	)
	output, err := t.runner.Run(ctx, t.ffmpegPath,
		"-hide_banner",
		"-i", t.filePath,
		"-filter_complex", filter,
		"-f", "null", "-",
	)
	if err != nil {
		return fmt.Errorf("subtitle OCR failed for %s stream %d: %w", t.filePath, t.streamIndex, err)
	}

	cues := ParseOCROutput(output)
	t.result = cues
	if len(cues) == 0 {
		t.logger.Info("OCR recognized no text", "file", t.filePath, "stream", t.streamIndex)
		t.publishStatus("completed")
		return nil
	}

	if err := os.WriteFile(t.outputPath, []byte(FormatSRT(cues)), 0o644); err != nil {
		return fmt.Errorf("failed to write subtitle file %s: %w", t.outputPath, err)
	}
	t.publishStatus("completed")
	return nil
}

// ensureModel downloads the tesseract language model on first use.
func (t *ConvertSubtitleTask) ensureModel(ctx context.Context) error {
	modelPath := filepath.Join(t.tessdataDir, t.language+".traineddata")
	if _, err := os.Stat(modelPath); err == nil {
		return nil
	}
	if t.tessdataURL == "" {
		return fmt.Errorf("no model repository configured")
	}

	if err := os.MkdirAll(t.tessdataDir, 0o755); err != nil {
		return err
	}

	url := strings.TrimRight(t.tessdataURL, "/") + "/" + t.language + ".traineddata"
	t.logger.Info("downloading OCR model", "language", t.language, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download returned status %d", resp.StatusCode)
	}

	// Write through a temp file so a partial download never looks like a
	// valid model.
	tmp, err := os.CreateTemp(t.tessdataDir, t.language+".traineddata.*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), modelPath)
}

// ParseOCROutput converts the metadata printer's output into cues. Each
// recognized frame opens a cue; the next recognition (or a fixed gap)
// closes it. Consecutive identical texts merge into one cue.
func ParseOCROutput(output []byte) []SubtitleCue {
	var cues []SubtitleCue
	var pending time.Duration
	havePending := false

	for _, line := range strings.Split(string(output), "\n") {
		if matches := ocrTimePattern.FindStringSubmatch(line); matches != nil {
			if seconds, err := strconv.ParseFloat(matches[1], 64); err == nil {
				pending = time.Duration(seconds * float64(time.Second))
				havePending = true
			}
			continue
		}

		idx := strings.Index(line, ocrTextPrefix)
		if idx < 0 || !havePending {
			continue
		}
		text := strings.TrimSpace(line[idx+len(ocrTextPrefix):])
		havePending = false
		if text == "" {
			continue
		}

		if n := len(cues); n > 0 {
			if cues[n-1].End > pending {
				cues[n-1].End = pending
			}
			if cues[n-1].Text == text {
				cues[n-1].End = pending + ocrCueGap
				continue
			}
		}
		cues = append(cues, SubtitleCue{Start: pending, End: pending + ocrCueGap, Text: text})
	}
	return cues
}

// FormatSRT renders cues as a SubRip document.
func FormatSRT(cues []SubtitleCue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(cue.Start), srtTimestamp(cue.End), cue.Text)
	}
	return b.String()
}

func srtTimestamp(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	millis := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

func (t *ConvertSubtitleTask) publishStatus(status string) {
	if t.bus == nil {
		return
	}
	ev := events.NewEvent(events.TypeSubtitleOCR, "", map[string]interface{}{
		"file":     t.filePath,
		"stream":   t.streamIndex,
		"language": t.language,
		"status":   status,
	})
	if err := t.bus.PublishAsync(ev); err != nil {
		t.logger.Warn("failed to publish subtitle status", "status", status, "error", err)
	}
}

// Result returns the recognized cues. Nil until Run succeeds.
func (t *ConvertSubtitleTask) Result() []SubtitleCue {
	return t.result
}

// Skipped reports whether the task degraded to a no-op because the OCR
// model was unavailable.
func (t *ConvertSubtitleTask) Skipped() bool {
	return t.skipped
}

// ConvertSubtitle is the single-call form.
func ConvertSubtitle(ctx context.Context, log logger.Logger, pool *Pool, runner types.CommandRunner, bus events.Publisher, ffmpegPath, filePath string, streamIndex int, language, tessdataDir, tessdataURL, outputPath string) ([]SubtitleCue, error) {
	task := NewConvertSubtitleTask(log, pool, runner, bus, ffmpegPath, filePath, streamIndex, language, tessdataDir, tessdataURL, outputPath)
	if err := task.Run(ctx); err != nil {
		return nil, err
	}
	return task.Result(), nil
}
