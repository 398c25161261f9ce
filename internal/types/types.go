// Package types provides the shared data structures used across the encode
// core. Centralizing them here keeps the leaf packages (media, hardware,
// ffmpeg, hls, probes) free of dependencies on each other.
package types

import (
	"context"
	"time"
)

// CommandRunner abstracts external tool invocation so command synthesis and
// output parsing can be tested without ffmpeg/ffprobe binaries.
type CommandRunner interface {
	// Run executes the command and returns combined stdout and stderr.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// Output executes the command and returns stdout only.
	Output(ctx context.Context, cmd string, args ...string) ([]byte, error)
}

// OutputMode selects how renditions are encoded.
type OutputMode int

const (
	// OutputModeCombined produces all renditions from one ffmpeg process.
	OutputModeCombined OutputMode = iota
	// OutputModeSeparateStreams produces one ffmpeg process per rendition.
	OutputModeSeparateStreams
)

func (m OutputMode) String() string {
	switch m {
	case OutputModeCombined:
		return "combined"
	case OutputModeSeparateStreams:
		return "separate_streams"
	default:
		return "unknown"
	}
}

// EncoderProfile describes the requested output set. Profiles come from the
// external profile store and are treated as read-only.
type EncoderProfile struct {
	Name      string           `json:"name" yaml:"name"`
	Container string           `json:"container" yaml:"container"`
	Videos    []VideoProfile   `json:"videos" yaml:"videos"`
	Audios    []AudioProfile   `json:"audios" yaml:"audios"`
	Subtitles []SubtitleProfile `json:"subtitles" yaml:"subtitles"`
}

// VideoProfile is one video rendition request.
type VideoProfile struct {
	Codec        string `json:"codec" yaml:"codec"`
	Bitrate      int    `json:"bitrate" yaml:"bitrate"` // kbps
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`
	Preset       string `json:"preset" yaml:"preset"`
	Profile      string `json:"profile" yaml:"profile"`
	ConvertToSDR bool   `json:"convert_to_sdr" yaml:"convert_to_sdr"`
}

// AudioProfile is one audio rendition request.
type AudioProfile struct {
	Codec      string   `json:"codec" yaml:"codec"`
	Channels   int      `json:"channels" yaml:"channels"`
	SampleRate int      `json:"sample_rate" yaml:"sample_rate"`
	Bitrate    int      `json:"bitrate" yaml:"bitrate"` // kbps
	Extra      []string `json:"extra" yaml:"extra"`
}

// SubtitleProfile is the subtitle handling request.
type SubtitleProfile struct {
	Codec string `json:"codec" yaml:"codec"`
}

// EncodingProgress is one progress sample pushed during an encode. It is
// ephemeral and never persisted by the core.
type EncodingProgress struct {
	Percentage    float64
	Elapsed       time.Duration
	Remaining     time.Duration
	FPS           float64
	Bitrate       string
	Frame         int64
	Speed         float64
}

// RenditionOutput names one produced rendition and its media playlist.
type RenditionOutput struct {
	FolderName   string
	PlaylistPath string
}

// OutputLayout summarizes the on-disk layout of an encode so callers get
// the rendition set without re-deriving it from the output folder.
type OutputLayout struct {
	BasePath           string
	MasterPlaylistPath string
	Videos             []RenditionOutput
	Audios             []RenditionOutput
}

// EncodingResult is the terminal value of one encode invocation.
type EncodingResult struct {
	Success      bool
	OutputPath   string
	Layout       *OutputLayout
	Duration     time.Duration
	ErrorMessage string
	ExitCode     int
	Cancelled    bool
}
