package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heliosmedia/helios/internal/hardware"
	"github.com/heliosmedia/helios/internal/hls"
	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/types"
)

// ErrNoProfileFound is returned when the encoder profile carries no
// sub-profile for any stream type present in the source.
var ErrNoProfileFound = errors.New("no matching stream profile found")

// tonemapChain converts PQ/HLG sources to BT.709 SDR. The source is
// linearized first so the tone-mapping operator works in linear light.
const tonemapChain = "zscale=t=linear:npl=100,tonemap=hable:desat=0,zscale=p=bt709:t=bt709:m=bt709,format=yuv420p"

// Command is one fully-formed encoder invocation.
type Command struct {
	Args []string
	// Rendition is the output folder this command writes, or empty for a
	// combined multi-output invocation.
	Rendition string
}

// BuildOptions tune command synthesis for one job.
type BuildOptions struct {
	Mode types.OutputMode
	// Crop is an optional w:h:x:y rectangle from crop detection, applied
	// before scaling.
	Crop string
	// StartOffset and Window restrict the encode to a time slice of the
	// input for preview encodes. Zero values encode the whole file.
	StartOffset time.Duration
	Window      time.Duration
}

// CommandBuilder turns an analysis plus a profile into encoder argument
// lists.
type CommandBuilder struct {
	logger          logger.Logger
	selector        *hardware.Selector
	segmentDuration int
	threads         int
}

// NewCommandBuilder creates a CommandBuilder. Codec names in profiles are
// resolved through the selector so a profile authored on one host degrades
// safely on another.
func NewCommandBuilder(log logger.Logger, selector *hardware.Selector, segmentDuration, threads int) *CommandBuilder {
	return &CommandBuilder{
		logger:          log.Named("builder"),
		selector:        selector,
		segmentDuration: segmentDuration,
		threads:         threads,
	}
}

// Build produces the encoder invocations for one job: a single command in
// combined mode, or one command per rendition in separate-streams mode.
func (b *CommandBuilder) Build(ctx context.Context, analysis *media.StreamAnalysis, profile *types.EncoderProfile, structure *hls.OutputStructure, opts BuildOptions) ([]Command, error) {
	if len(profile.Videos) == 0 && len(profile.Audios) == 0 {
		return nil, fmt.Errorf("profile %q: %w", profile.Name, ErrNoProfileFound)
	}
	if len(structure.Videos) > 0 && len(profile.Videos) == 0 {
		return nil, fmt.Errorf("profile %q has no video sub-profile: %w", profile.Name, ErrNoProfileFound)
	}
	if len(structure.Audios) > 0 && len(profile.Audios) == 0 {
		return nil, fmt.Errorf("profile %q has no audio sub-profile: %w", profile.Name, ErrNoProfileFound)
	}

	if opts.Mode == types.OutputModeCombined {
		cmd, err := b.buildCombined(ctx, analysis, profile, structure, opts)
		if err != nil {
			return nil, err
		}
		return []Command{*cmd}, nil
	}
	return b.buildSeparate(ctx, analysis, profile, structure, opts)
}

func (b *CommandBuilder) buildCombined(ctx context.Context, analysis *media.StreamAnalysis, profile *types.EncoderProfile, structure *hls.OutputStructure, opts BuildOptions) (*Command, error) {
	args := b.inputArgs(ctx, analysis, profile, opts)

	for i, video := range structure.Videos {
		vp := profile.Videos[min(i, len(profile.Videos)-1)]
		videoArgs, err := b.videoOutputArgs(ctx, analysis, vp, video, opts)
		if err != nil {
			return nil, err
		}
		args = append(args, videoArgs...)
	}
	for _, audio := range structure.Audios {
		ap, ok := audioProfileFor(profile, audio.Codec)
		if !ok {
			return nil, fmt.Errorf("audio codec %q: %w", audio.Codec, ErrNoProfileFound)
		}
		audioArgs, err := b.audioOutputArgs(analysis, ap, audio)
		if err != nil {
			return nil, err
		}
		args = append(args, audioArgs...)
	}

	b.logger.Debug("built combined command", "args", strings.Join(args, " "))
	return &Command{Args: args}, nil
}

func (b *CommandBuilder) buildSeparate(ctx context.Context, analysis *media.StreamAnalysis, profile *types.EncoderProfile, structure *hls.OutputStructure, opts BuildOptions) ([]Command, error) {
	var commands []Command

	for i, video := range structure.Videos {
		vp := profile.Videos[min(i, len(profile.Videos)-1)]
		args := b.inputArgs(ctx, analysis, profile, opts)
		videoArgs, err := b.videoOutputArgs(ctx, analysis, vp, video, opts)
		if err != nil {
			return nil, err
		}
		args = append(args, videoArgs...)
		commands = append(commands, Command{Args: args, Rendition: video.FolderName})
	}

	for _, audio := range structure.Audios {
		ap, ok := audioProfileFor(profile, audio.Codec)
		if !ok {
			return nil, fmt.Errorf("audio codec %q: %w", audio.Codec, ErrNoProfileFound)
		}
		// Audio renditions never need hardware decode.
		args := b.baseInputArgs(analysis, nil, opts)
		audioArgs, err := b.audioOutputArgs(analysis, ap, audio)
		if err != nil {
			return nil, err
		}
		args = append(args, audioArgs...)
		commands = append(commands, Command{Args: args, Rendition: audio.FolderName})
	}

	b.logger.Debug("built separate-stream commands", "count", len(commands))
	return commands, nil
}

// inputArgs emits the global and input-side flags. Hardware acceleration
// args must precede -i to take effect on the decoder.
func (b *CommandBuilder) inputArgs(ctx context.Context, analysis *media.StreamAnalysis, profile *types.EncoderProfile, opts BuildOptions) []string {
	var accel *hardware.GpuAccelerator
	if len(profile.Videos) > 0 {
		encoder := b.selector.ResolveBestCodec(ctx, profile.Videos[0].Codec)
		accel = b.selector.BackendFor(ctx, encoder)
	}
	return b.baseInputArgs(analysis, accel, opts)
}

func (b *CommandBuilder) baseInputArgs(analysis *media.StreamAnalysis, accel *hardware.GpuAccelerator, opts BuildOptions) []string {
	args := []string{"-hide_banner", "-y"}
	if b.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", b.threads))
	}
	if accel != nil {
		args = append(args, accel.InputArgs()...)
	}
	if opts.StartOffset > 0 {
		args = append(args, "-ss", formatSeconds(opts.StartOffset))
	}
	args = append(args, "-i", analysis.FilePath)
	if opts.Window > 0 {
		args = append(args, "-t", formatSeconds(opts.Window))
	}
	return args
}

// videoOutputArgs emits the mapping, filter chain, codec flags and HLS
// muxer flags for one video rendition.
func (b *CommandBuilder) videoOutputArgs(ctx context.Context, analysis *media.StreamAnalysis, vp types.VideoProfile, out hls.VideoOutput, opts BuildOptions) ([]string, error) {
	if analysis.PrimaryVideo == nil {
		return nil, fmt.Errorf("source has no video stream: %w", ErrNoProfileFound)
	}

	encoder := b.selector.ResolveBestCodec(ctx, vp.Codec)

	var filters []string
	if opts.Crop != "" {
		filters = append(filters, "crop="+opts.Crop)
	}
	filters = append(filters, fmt.Sprintf("scale=%d:%d", out.Width, out.Height))
	if vp.ConvertToSDR && analysis.IsHDR {
		filters = append(filters, tonemapChain)
	}
	// Surface-consuming encoders (h264_vaapi and friends) need frames
	// uploaded back to the GPU after the software filters have run.
	if accel := b.selector.BackendFor(ctx, encoder); accel != nil && accel.FilterSpec != "" {
		filters = append(filters, accel.FilterSpec)
	}

	args := []string{
		"-map", fmt.Sprintf("0:v:%d", streamOrdinal(analysis, analysis.PrimaryVideo.Index)),
		"-vf", strings.Join(filters, ","),
		"-c:v", encoder,
	}
	if vp.Bitrate > 0 {
		bitrate := fmt.Sprintf("%dk", vp.Bitrate)
		args = append(args,
			"-b:v", bitrate,
			"-maxrate", fmt.Sprintf("%dk", vp.Bitrate*12/10),
			"-bufsize", fmt.Sprintf("%dk", vp.Bitrate*2),
		)
	}
	if vp.Preset != "" {
		args = append(args, "-preset", vp.Preset)
	}
	if vp.Profile != "" {
		args = append(args, "-profile:v", vp.Profile)
	}

	args = append(args, b.hlsMuxerArgs(out.SegmentPattern, out.PlaylistPath)...)
	return args, nil
}

// audioOutputArgs emits the mapping, codec flags and HLS muxer flags for
// one audio rendition.
func (b *CommandBuilder) audioOutputArgs(analysis *media.StreamAnalysis, ap types.AudioProfile, out hls.AudioOutput) ([]string, error) {
	ordinal, ok := audioOrdinalForLanguage(analysis, out.Language)
	if !ok {
		return nil, fmt.Errorf("no source audio stream for language %q: %w", out.Language, ErrNoProfileFound)
	}

	args := []string{
		"-map", fmt.Sprintf("0:a:%d", ordinal),
		"-c:a", audioEncoderFor(ap.Codec),
	}
	if ap.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", ap.Channels))
	}
	if ap.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", ap.SampleRate))
	}
	if ap.Bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", ap.Bitrate))
	}
	args = append(args, ap.Extra...)

	args = append(args, b.hlsMuxerArgs(out.SegmentPattern, out.PlaylistPath)...)
	return args, nil
}

func (b *CommandBuilder) hlsMuxerArgs(segmentPattern, playlistPath string) []string {
	return []string{
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", b.segmentDuration),
		"-hls_playlist_type", "vod",
		// Segments are written under a temp name and renamed once complete
		// so watchers never observe a half-written .ts file.
		"-hls_flags", "temp_file",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}
}

// streamOrdinal converts an absolute stream index into the per-type ordinal
// ffmpeg's 0:v:N selector expects.
func streamOrdinal(analysis *media.StreamAnalysis, absoluteIndex int) int {
	for i, stream := range analysis.VideoStreams {
		if stream.Index == absoluteIndex {
			return i
		}
	}
	return 0
}

// audioOrdinalForLanguage finds the per-type ordinal of the first audio
// stream tagged with the given language. Untagged streams match "und".
func audioOrdinalForLanguage(analysis *media.StreamAnalysis, language string) (int, bool) {
	for i, stream := range analysis.AudioStreams {
		lang := stream.Language
		if lang == "" {
			lang = "und"
		}
		if lang == language {
			return i, true
		}
	}
	return 0, false
}

func audioProfileFor(profile *types.EncoderProfile, codec string) (types.AudioProfile, bool) {
	for _, ap := range profile.Audios {
		if ap.Codec == codec {
			return ap, true
		}
	}
	return types.AudioProfile{}, false
}

// audioEncoderFor maps codec family names to concrete encoder ids.
func audioEncoderFor(codec string) string {
	switch codec {
	case "aac":
		return "aac"
	case "ac3":
		return "ac3"
	case "eac3":
		return "eac3"
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "flac":
		return "flac"
	default:
		return codec
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
