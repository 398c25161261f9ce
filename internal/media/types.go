package media

import "time"

// StreamAnalysis is the structured description of a probed input file.
// It is immutable once produced; each Analyze call returns a fresh value
// owned by the caller.
type StreamAnalysis struct {
	FilePath  string
	Duration  time.Duration
	FileSize  int64
	Container string
	Bitrate   int64

	VideoStreams    []VideoStreamInfo
	AudioStreams    []AudioStreamInfo
	SubtitleStreams []SubtitleStreamInfo
	Chapters        []ChapterInfo

	IsHDR bool

	// Primary stream designations: first playable video, first
	// default-flagged (else first) audio, first default/forced subtitle.
	PrimaryVideo    *VideoStreamInfo
	PrimaryAudio    *AudioStreamInfo
	PrimarySubtitle *SubtitleStreamInfo
}

// HasPlayableStream reports whether a job can proceed on this analysis.
func (a *StreamAnalysis) HasPlayableStream() bool {
	return len(a.VideoStreams) > 0 || len(a.AudioStreams) > 0
}

// VideoStreamInfo describes one playable video stream. Streams whose
// disposition marks them as an attached picture (cover art) are excluded
// during analysis.
type VideoStreamInfo struct {
	Index          int
	Codec          string
	Profile        string
	Level          int
	Width          int
	Height         int
	FrameRate      float64
	Language       string
	Default        bool
	Forced         bool
	PixelFormat    string
	ColorSpace     string
	ColorTransfer  string
	ColorPrimaries string
	BitDepth       int
}

// IsHDR applies the per-stream HDR classification: PQ/HLG transfer, a
// wide-gamut color space, or a pixel format with >=10 bits per component.
func (v *VideoStreamInfo) IsHDR() bool {
	switch v.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	switch v.ColorSpace {
	case "bt2020nc", "bt2020c":
		return true
	}
	return v.BitDepth >= 10
}

// AudioStreamInfo describes one audio stream.
type AudioStreamInfo struct {
	Index      int
	Codec      string
	Profile    string
	Channels   int
	SampleRate int
	Bitrate    int64
	Language   string
	Default    bool
	Forced     bool
	Title      string
}

// SubtitleStreamInfo describes one subtitle stream.
type SubtitleStreamInfo struct {
	Index    int
	Codec    string
	Language string
	Default  bool
	Forced   bool
	Title    string
}

// ChapterInfo is one embedded chapter marker.
type ChapterInfo struct {
	Index int
	Title string
	Start time.Duration
	End   time.Duration
}
