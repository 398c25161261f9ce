package ffmpeg

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosmedia/helios/internal/hardware"
	"github.com/heliosmedia/helios/internal/hls"
	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/types"
)

type fakeRunner struct {
	output []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return f.output, f.err
}

func (f *fakeRunner) Output(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return f.output, f.err
}

func testSelector(hwaccels string) *hardware.Selector {
	runner := &fakeRunner{output: []byte(hwaccels)}
	return hardware.NewSelector(hardware.NewDetector(logger.Nop(), runner, "ffmpeg", hwaccels != ""))
}

func testAnalysis(isHDR bool) *media.StreamAnalysis {
	video := media.VideoStreamInfo{Index: 0, Codec: "hevc", Width: 3840, Height: 2160}
	audio := media.AudioStreamInfo{Index: 1, Codec: "eac3", Channels: 6, Language: "eng"}
	analysis := &media.StreamAnalysis{
		FilePath:     "/media/movie.mkv",
		Duration:     90 * time.Minute,
		VideoStreams: []media.VideoStreamInfo{video},
		AudioStreams: []media.AudioStreamInfo{audio},
		IsHDR:        isHDR,
	}
	analysis.PrimaryVideo = &analysis.VideoStreams[0]
	analysis.PrimaryAudio = &analysis.AudioStreams[0]
	return analysis
}

func testProfile() *types.EncoderProfile {
	return &types.EncoderProfile{
		Name:      "test",
		Container: "hls",
		Videos: []types.VideoProfile{
			{Codec: "h264", Bitrate: 5000, Width: 1920, Height: 1080, Preset: "fast", ConvertToSDR: true},
		},
		Audios: []types.AudioProfile{
			{Codec: "aac", Channels: 2, SampleRate: 48000, Bitrate: 128},
		},
	}
}

func buildStructure(t *testing.T, analysis *media.StreamAnalysis, profile *types.EncoderProfile) *hls.OutputStructure {
	t.Helper()
	structure, err := hls.CreateOutputStructure("/out", "movie", analysis, profile)
	require.NoError(t, err)
	return structure
}

func TestBuildCombinedMode(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{Mode: types.OutputModeCombined})
	require.NoError(t, err)
	require.Len(t, commands, 1)

	joined := strings.Join(commands[0].Args, " ")
	assert.Contains(t, joined, "-i /media/movie.mkv")
	assert.Contains(t, joined, "-map 0:v:0")
	assert.Contains(t, joined, "-map 0:a:0")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:v 5000k")
	assert.Contains(t, joined, "-hls_time 6")
	assert.Contains(t, joined, "-hls_playlist_type vod")
	assert.Contains(t, joined, "-hls_flags temp_file")
}

func TestVaapiUploadFollowsSoftwareFilters(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector("vaapi\n"), 6, 0)
	analysis := testAnalysis(true)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{
		Mode: types.OutputModeCombined,
		Crop: "992:592:104:64",
	})
	require.NoError(t, err)

	joined := strings.Join(commands[0].Args, " ")
	assert.Contains(t, joined, "-c:v h264_vaapi")
	// Decoded frames must stay in system memory for crop/scale/tonemap and
	// only be uploaded to GPU surfaces at the end of the chain.
	assert.NotContains(t, joined, "-hwaccel_output_format")

	filterChain := argAfter(t, commands[0].Args, "-vf")
	assert.True(t, strings.HasSuffix(filterChain, "format=nv12|vaapi,hwupload"),
		"upload chain must terminate the filters, got %q", filterChain)
	assert.Less(t, strings.Index(filterChain, "tonemap="), strings.Index(filterChain, "hwupload"))
}

func TestSoftwareEncodeHasNoUploadChain(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{Mode: types.OutputModeCombined})
	require.NoError(t, err)

	filterChain := argAfter(t, commands[0].Args, "-vf")
	assert.NotContains(t, filterChain, "hwupload")
}

// argAfter returns the value following the first occurrence of flag.
func argAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestBuildSeparateModeOneCommandPerRendition(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	profile.Videos = append(profile.Videos, types.VideoProfile{
		Codec: "h264", Bitrate: 2500, Width: 1280, Height: 720, Preset: "fast",
	})
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{Mode: types.OutputModeSeparateStreams})
	require.NoError(t, err)
	require.Len(t, commands, 3) // two video renditions + one audio

	for _, command := range commands {
		assert.NotEmpty(t, command.Rendition)
		joined := strings.Join(command.Args, " ")
		assert.Contains(t, joined, "-i /media/movie.mkv")
	}
}

func TestHardwareArgsPrecedeInput(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector("cuda\n"), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{Mode: types.OutputModeCombined})
	require.NoError(t, err)

	joined := strings.Join(commands[0].Args, " ")
	hwaccelPos := strings.Index(joined, "-hwaccel cuda")
	inputPos := strings.Index(joined, "-i /media/movie.mkv")
	require.GreaterOrEqual(t, hwaccelPos, 0)
	assert.Less(t, hwaccelPos, inputPos)
	assert.Contains(t, joined, "-c:v h264_nvenc")
}

func TestTonemapChainOnlyForHDRConversion(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)

	tests := []struct {
		name     string
		isHDR    bool
		toSDR    bool
		expected bool
	}{
		{"hdr source converted", true, true, true},
		{"hdr source kept", true, false, false},
		{"sdr source", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := testAnalysis(tt.isHDR)
			profile := testProfile()
			profile.Videos[0].ConvertToSDR = tt.toSDR
			structure := buildStructure(t, analysis, profile)

			commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{Mode: types.OutputModeCombined})
			require.NoError(t, err)
			joined := strings.Join(commands[0].Args, " ")
			assert.Equal(t, tt.expected, strings.Contains(joined, "tonemap=hable"))
		})
	}
}

func TestCropPrecedesScale(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{
		Mode: types.OutputModeCombined,
		Crop: "992:592:104:64",
	})
	require.NoError(t, err)

	joined := strings.Join(commands[0].Args, " ")
	assert.Contains(t, joined, "crop=992:592:104:64,scale=1920:1080")
}

func TestTimeWindowRestriction(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)
	profile := testProfile()
	structure := buildStructure(t, analysis, profile)

	commands, err := builder.Build(context.Background(), analysis, profile, structure, BuildOptions{
		Mode:        types.OutputModeCombined,
		StartOffset: 90 * time.Second,
		Window:      30 * time.Second,
	})
	require.NoError(t, err)

	joined := strings.Join(commands[0].Args, " ")
	// The seek goes before the input for fast seeking, the window after.
	seekPos := strings.Index(joined, "-ss 90.000")
	inputPos := strings.Index(joined, "-i /media/movie.mkv")
	windowPos := strings.Index(joined, "-t 30.000")
	require.GreaterOrEqual(t, seekPos, 0)
	require.GreaterOrEqual(t, windowPos, 0)
	assert.Less(t, seekPos, inputPos)
	assert.Greater(t, windowPos, inputPos)
}

func TestBuildNoProfileFound(t *testing.T) {
	builder := NewCommandBuilder(logger.Nop(), testSelector(""), 6, 0)
	analysis := testAnalysis(false)

	empty := &types.EncoderProfile{Name: "empty"}
	_, err := builder.Build(context.Background(), analysis, empty, &hls.OutputStructure{}, BuildOptions{})
	assert.ErrorIs(t, err, ErrNoProfileFound)
}
