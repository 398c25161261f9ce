// Package media probes input files with ffprobe and models the result.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// Analysis failure classes. Callers match with errors.Is.
var (
	ErrFileNotFound    = errors.New("media file not found")
	ErrAnalysisTimeout = errors.New("media analysis timed out")
	ErrMalformedOutput = errors.New("malformed ffprobe output")
)

// Analyzer probes media files.
type Analyzer struct {
	logger      logger.Logger
	runner      types.CommandRunner
	ffprobePath string

	probeTimeout  time.Duration
	retryAttempts int
	retryBackoff  time.Duration
}

// NewAnalyzer creates an Analyzer. The runner seam allows tests to feed
// recorded ffprobe output.
func NewAnalyzer(log logger.Logger, runner types.CommandRunner, ffprobePath string) *Analyzer {
	return &Analyzer{
		logger:        log.Named("analyzer"),
		runner:        runner,
		ffprobePath:   ffprobePath,
		probeTimeout:  30 * time.Second,
		retryAttempts: 3,
		retryBackoff:  500 * time.Millisecond,
	}
}

// SetRetryPolicy overrides the default probe timeout and retry settings.
// Zero values keep the current setting.
func (a *Analyzer) SetRetryPolicy(timeout time.Duration, attempts int, backoff time.Duration) {
	if timeout > 0 {
		a.probeTimeout = timeout
	}
	if attempts > 0 {
		a.retryAttempts = attempts
	}
	if backoff > 0 {
		a.retryBackoff = backoff
	}
}

// ffprobeDocument models ffprobe -print_format json output.
type ffprobeDocument struct {
	Format struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
	Chapters []struct {
		ID        int64  `json:"id"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Tags      struct {
			Title string `json:"title"`
		} `json:"tags"`
	} `json:"chapters"`
}

type ffprobeStream struct {
	Index          int    `json:"index"`
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Profile        string `json:"profile"`
	Level          int    `json:"level"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	PixFmt         string `json:"pix_fmt"`
	ColorSpace     string `json:"color_space"`
	ColorTransfer  string `json:"color_transfer"`
	ColorPrimaries string `json:"color_primaries"`
	RFrameRate     string `json:"r_frame_rate"`
	AvgFrameRate   string `json:"avg_frame_rate"`
	BitRate        string `json:"bit_rate"`
	SampleRate     string `json:"sample_rate"`
	Channels       int    `json:"channels"`
	BitsPerRaw     string `json:"bits_per_raw_sample"`
	Disposition    struct {
		Default     int `json:"default"`
		Forced      int `json:"forced"`
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

// Analyze probes path and returns its stream description.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*StreamAnalysis, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	output, err := a.probeWithRetry(ctx, path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	)
	if err != nil {
		return nil, err
	}

	var doc ffprobeDocument
	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(doc.Streams) == 0 {
		return nil, fmt.Errorf("%w: no streams reported", ErrMalformedOutput)
	}

	analysis := a.buildAnalysis(path, &doc)

	a.logger.Debug("analysis complete",
		"file", path,
		"container", analysis.Container,
		"video_streams", len(analysis.VideoStreams),
		"audio_streams", len(analysis.AudioStreams),
		"subtitle_streams", len(analysis.SubtitleStreams),
		"hdr", analysis.IsHDR,
	)

	return analysis, nil
}

// GetDuration probes only the container duration.
func (a *Analyzer) GetDuration(ctx context.Context, path string) (time.Duration, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	output, err := a.probeWithRetry(ctx, path,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrMalformedOutput, strings.TrimSpace(string(output)))
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// IsValidMediaFile reports whether path contains at least one playable
// video or audio stream. Unlike Analyze it makes one cheap stream-type
// probe with no retries.
func (a *Analyzer) IsValidMediaFile(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()
	output, err := a.runner.Output(probeCtx, a.ffprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(output), "\n") {
		switch strings.TrimSpace(line) {
		case "video", "audio":
			return true
		}
	}
	return false
}

func (a *Analyzer) probeWithRetry(ctx context.Context, path string, args ...string) ([]byte, error) {
	var lastErr error
	backoff := a.retryBackoff

	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, a.probeTimeout)
		output, err := a.runner.Output(probeCtx, a.ffprobePath, args...)
		cancel()

		if err == nil {
			return output, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("ffprobe timed out", "file", path, "attempt", attempt)
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			a.logger.Warn("ffprobe failed", "file", path, "attempt", attempt, "error", err)
		}

		if attempt < a.retryAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrAnalysisTimeout, path)
	}
	return nil, fmt.Errorf("ffprobe failed for %s after %d attempts: %w", path, a.retryAttempts, lastErr)
}

func (a *Analyzer) buildAnalysis(path string, doc *ffprobeDocument) *StreamAnalysis {
	analysis := &StreamAnalysis{
		FilePath:  path,
		Container: doc.Format.FormatName,
	}

	if doc.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(doc.Format.Duration, 64); err == nil {
			analysis.Duration = time.Duration(seconds * float64(time.Second))
		}
	}
	if doc.Format.Size != "" {
		if size, err := strconv.ParseInt(doc.Format.Size, 10, 64); err == nil {
			analysis.FileSize = size
		}
	}
	if doc.Format.BitRate != "" {
		if bitrate, err := strconv.ParseInt(doc.Format.BitRate, 10, 64); err == nil {
			analysis.Bitrate = bitrate
		}
	}

	for _, stream := range doc.Streams {
		switch stream.CodecType {
		case "video":
			// Cover art is a video-coded stream, not a playable one.
			if stream.Disposition.AttachedPic != 0 {
				continue
			}
			analysis.VideoStreams = append(analysis.VideoStreams, buildVideoStream(stream))
		case "audio":
			analysis.AudioStreams = append(analysis.AudioStreams, buildAudioStream(stream))
		case "subtitle":
			analysis.SubtitleStreams = append(analysis.SubtitleStreams, SubtitleStreamInfo{
				Index:    stream.Index,
				Codec:    stream.CodecName,
				Language: stream.Tags.Language,
				Default:  stream.Disposition.Default != 0,
				Forced:   stream.Disposition.Forced != 0,
				Title:    stream.Tags.Title,
			})
		}
	}

	for i, ch := range doc.Chapters {
		chapter := ChapterInfo{Index: i, Title: ch.Tags.Title}
		if start, err := strconv.ParseFloat(ch.StartTime, 64); err == nil {
			chapter.Start = time.Duration(start * float64(time.Second))
		}
		if end, err := strconv.ParseFloat(ch.EndTime, 64); err == nil {
			chapter.End = time.Duration(end * float64(time.Second))
		}
		analysis.Chapters = append(analysis.Chapters, chapter)
	}

	designatePrimaries(analysis)

	for i := range analysis.VideoStreams {
		if analysis.VideoStreams[i].IsHDR() {
			analysis.IsHDR = true
			break
		}
	}

	return analysis
}

func buildVideoStream(stream ffprobeStream) VideoStreamInfo {
	info := VideoStreamInfo{
		Index:          stream.Index,
		Codec:          stream.CodecName,
		Profile:        stream.Profile,
		Level:          stream.Level,
		Width:          stream.Width,
		Height:         stream.Height,
		Language:       stream.Tags.Language,
		Default:        stream.Disposition.Default != 0,
		Forced:         stream.Disposition.Forced != 0,
		PixelFormat:    stream.PixFmt,
		ColorSpace:     stream.ColorSpace,
		ColorTransfer:  stream.ColorTransfer,
		ColorPrimaries: stream.ColorPrimaries,
		BitDepth:       bitDepthFromStream(stream),
	}
	info.FrameRate = ParseFrameRate(stream.RFrameRate)
	if info.FrameRate == 0 {
		info.FrameRate = ParseFrameRate(stream.AvgFrameRate)
	}
	return info
}

func buildAudioStream(stream ffprobeStream) AudioStreamInfo {
	info := AudioStreamInfo{
		Index:    stream.Index,
		Codec:    stream.CodecName,
		Profile:  stream.Profile,
		Channels: stream.Channels,
		Language: stream.Tags.Language,
		Default:  stream.Disposition.Default != 0,
		Forced:   stream.Disposition.Forced != 0,
		Title:    stream.Tags.Title,
	}
	if stream.SampleRate != "" {
		if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
			info.SampleRate = rate
		}
	}
	if stream.BitRate != "" {
		if bitrate, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
			info.Bitrate = bitrate
		}
	}
	return info
}

func designatePrimaries(analysis *StreamAnalysis) {
	if len(analysis.VideoStreams) > 0 {
		analysis.PrimaryVideo = &analysis.VideoStreams[0]
	}

	for i := range analysis.AudioStreams {
		if analysis.AudioStreams[i].Default {
			analysis.PrimaryAudio = &analysis.AudioStreams[i]
			break
		}
	}
	if analysis.PrimaryAudio == nil && len(analysis.AudioStreams) > 0 {
		analysis.PrimaryAudio = &analysis.AudioStreams[0]
	}

	for i := range analysis.SubtitleStreams {
		if analysis.SubtitleStreams[i].Default || analysis.SubtitleStreams[i].Forced {
			analysis.PrimarySubtitle = &analysis.SubtitleStreams[i]
			break
		}
	}
}

// ParseFrameRate parses a frame rate in num/den or decimal form.
func ParseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return rate
}

// bitDepthFromStream derives bits per component from the reported raw
// sample depth, falling back to the pixel format name.
func bitDepthFromStream(stream ffprobeStream) int {
	if stream.BitsPerRaw != "" {
		if depth, err := strconv.Atoi(stream.BitsPerRaw); err == nil && depth > 0 {
			return depth
		}
	}
	switch {
	case strings.Contains(stream.PixFmt, "12le"), strings.Contains(stream.PixFmt, "12be"):
		return 12
	case strings.Contains(stream.PixFmt, "10le"), strings.Contains(stream.PixFmt, "10be"):
		return 10
	case stream.PixFmt == "":
		return 0
	default:
		return 8
	}
}
