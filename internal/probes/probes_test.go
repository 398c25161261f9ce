package probes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosmedia/helios/internal/events"
	"github.com/heliosmedia/helios/internal/logger"
)

// scriptedRunner replays canned output per invocation and can run a hook
// to simulate tool side effects on disk.
type scriptedRunner struct {
	mu      sync.Mutex
	outputs [][]byte
	errs    []error
	calls   int
	onCall  func(call int, cmd string, args []string)
}

func (r *scriptedRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return r.invoke(cmd, args)
}

func (r *scriptedRunner) Output(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return r.invoke(cmd, args)
}

func (r *scriptedRunner) invoke(cmd string, args []string) ([]byte, error) {
	r.mu.Lock()
	call := r.calls
	r.calls++
	r.mu.Unlock()

	if r.onCall != nil {
		r.onCall(call, cmd, args)
	}
	var out []byte
	if call < len(r.outputs) {
		out = r.outputs[call]
	}
	var err error
	if call < len(r.errs) {
		err = r.errs[call]
	}
	return out, err
}

func TestDurationProbe(t *testing.T) {
	runner := &scriptedRunner{outputs: [][]byte{[]byte("5.015011\n")}}
	duration, err := Duration(context.Background(), NewPool(2), runner, "ffprobe", "tone.wav")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, duration.Seconds(), 0.2)
}

func TestDurationProbeRejectsGarbage(t *testing.T) {
	runner := &scriptedRunner{outputs: [][]byte{[]byte("N/A\n")}}
	_, err := Duration(context.Background(), NewPool(2), runner, "ffprobe", "broken.wav")
	assert.Error(t, err)
}

func TestParseCropOutput(t *testing.T) {
	output := []byte(strings.Join([]string{
		"[Parsed_cropdetect_0 @ 0x1] x1:104 x2:1095 y1:64 y2:655 w:976 h:576 x:112 y:72 pts:1 t:0.04 crop=976:576:112:72",
		"[Parsed_cropdetect_0 @ 0x1] x1:104 x2:1095 y1:64 y2:655 w:992 h:592 x:104 y:64 pts:2 t:0.08 crop=992:592:104:64",
	}, "\n"))
	crop, err := ParseCropOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "992:592:104:64", crop, "the last refined estimate wins")

	_, err = ParseCropOutput([]byte("no crop lines here"))
	assert.Error(t, err)
}

func TestCropDetectMajorityVote(t *testing.T) {
	// Eight sections agree, two report noise from dark scenes.
	outputs := make([][]byte, cropSections)
	for i := range outputs {
		crop := "992:592:104:64"
		if i == 2 || i == 7 {
			crop = "1280:720:0:0"
		}
		outputs[i] = []byte("crop=" + crop)
	}
	runner := &scriptedRunner{outputs: outputs}

	crop, err := CropDetect(context.Background(), logger.Nop(), NewPool(4), runner, "ffmpeg", "pattern.mp4", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "992:592:104:64", crop)
	assert.Equal(t, cropSections, runner.calls)
}

func TestCropDetectSurvivesFailedSections(t *testing.T) {
	outputs := make([][]byte, cropSections)
	errs := make([]error, cropSections)
	for i := range outputs {
		if i < 3 {
			errs[i] = errors.New("decode error")
			continue
		}
		outputs[i] = []byte("crop=992:592:104:64")
	}
	runner := &scriptedRunner{outputs: outputs, errs: errs}

	crop, err := CropDetect(context.Background(), logger.Nop(), NewPool(4), runner, "ffmpeg", "pattern.mp4", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "992:592:104:64", crop)
}

func TestCropDetectAllSectionsFailed(t *testing.T) {
	errs := make([]error, cropSections)
	for i := range errs {
		errs[i] = errors.New("decode error")
	}
	runner := &scriptedRunner{errs: errs}

	_, err := CropDetect(context.Background(), logger.Nop(), NewPool(4), runner, "ffmpeg", "pattern.mp4", 5*time.Minute)
	assert.Error(t, err)
}

func TestParseFingerprintOutput(t *testing.T) {
	output := []byte("DURATION=5\nFINGERPRINT=AQAAE0mUaEkSZSoAAAAAAAAA\n")
	fingerprint, err := ParseFingerprintOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "AQAAE0mUaEkSZSoAAAAAAAAA", fingerprint)
}

func TestFingerprintVerbatim(t *testing.T) {
	runner := &scriptedRunner{outputs: [][]byte{[]byte("DURATION=5\nFINGERPRINT=AQAAE0mUaEkSZSoAAAAAAAAA\n")}}
	fingerprint, err := Fingerprint(context.Background(), NewPool(2), runner, "fpcalc", "tone.wav")
	require.NoError(t, err)
	assert.Equal(t, "AQAAE0mUaEkSZSoAAAAAAAAA", fingerprint)
}

func TestFingerprintMissingField(t *testing.T) {
	runner := &scriptedRunner{outputs: [][]byte{[]byte("DURATION=5\n")}}
	_, err := Fingerprint(context.Background(), NewPool(2), runner, "fpcalc", "tone.wav")
	assert.Error(t, err)
}

const chapterProbe = `{"chapters":[
	{"start_time":"0.000000","end_time":"300.000000","tags":{"title":"Intro"}},
	{"start_time":"300.000000","end_time":"5400.000000","tags":{"title":"Main"}}
]}`

func TestExtractChapters(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "chapters.vtt")
	runner := &scriptedRunner{outputs: [][]byte{[]byte(chapterProbe)}}

	cues, err := ExtractChapters(context.Background(), NewPool(2), runner, "ffprobe", "movie.mkv", outputPath)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	vtt := string(content)
	assert.True(t, strings.HasPrefix(vtt, "WEBVTT"))
	assert.Contains(t, vtt, "Intro")
	assert.Contains(t, vtt, "Main")
	assert.Contains(t, vtt, "00:00:00.000 --> 00:05:00.000")
	assert.Contains(t, vtt, "00:05:00.000 --> 01:30:00.000")
}

func TestExtractChaptersNoneWritesNothing(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "chapters.vtt")
	runner := &scriptedRunner{outputs: [][]byte{[]byte(`{"chapters":[]}`)}}

	cues, err := ExtractChapters(context.Background(), NewPool(2), runner, "ffprobe", "movie.mkv", outputPath)
	require.NoError(t, err)
	assert.Empty(t, cues)
	assert.NoFileExists(t, outputPath)
}

const attachmentProbe = `{"streams":[
	{"tags":{"filename":"OpenSans.ttf","mimetype":"font/ttf"}},
	{"tags":{"filename":"Fancy.otf"}}
]}`

func TestExtractFonts(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "fonts")
	runner := &scriptedRunner{outputs: [][]byte{[]byte(attachmentProbe), nil}}
	runner.onCall = func(call int, cmd string, args []string) {
		if call != 1 {
			return
		}
		// The dump invocation writes the attachment files.
		for _, name := range []string{"OpenSans.ttf", "Fancy.otf"} {
			os.WriteFile(filepath.Join(destDir, name), []byte("font"), 0o644)
		}
	}

	entries, err := ExtractFonts(context.Background(), logger.Nop(), NewPool(2), runner, "ffmpeg", "ffprobe", "movie.mkv", destDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "font/ttf", entries[0].MimeType)
	assert.Equal(t, "application/octet-stream", entries[1].MimeType)

	manifest, err := os.ReadFile(filepath.Join(destDir, "fonts.json"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "OpenSans.ttf")
}

func TestExtractFontsNoAttachments(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "fonts")
	runner := &scriptedRunner{outputs: [][]byte{[]byte(`{"streams":[]}`)}}

	entries, err := ExtractFonts(context.Background(), logger.Nop(), NewPool(2), runner, "ffmpeg", "ffprobe", "movie.mkv", destDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, runner.calls, "no dump invocation without attachments")
}

func TestParseOCROutput(t *testing.T) {
	output := []byte(strings.Join([]string{
		"[Parsed_metadata_2 @ 0x1] frame:10 pts:30030 pts_time:3.003",
		"[Parsed_metadata_2 @ 0x1] lavfi.ocr.text=Hello there.",
		"[Parsed_metadata_2 @ 0x1] frame:80 pts:240240 pts_time:24.024",
		"[Parsed_metadata_2 @ 0x1] lavfi.ocr.text=General Kenobi!",
	}, "\n"))

	cues := ParseOCROutput(output)
	require.Len(t, cues, 2)
	assert.Equal(t, "Hello there.", cues[0].Text)
	assert.InDelta(t, 3.003, cues[0].Start.Seconds(), 0.001)
	assert.Equal(t, "General Kenobi!", cues[1].Text)
}

func TestParseOCROutputMergesRepeats(t *testing.T) {
	output := []byte(strings.Join([]string{
		"pts_time:1.0",
		"lavfi.ocr.text=Same line",
		"pts_time:2.0",
		"lavfi.ocr.text=Same line",
	}, "\n"))

	cues := ParseOCROutput(output)
	require.Len(t, cues, 1)
	assert.InDelta(t, 1.0, cues[0].Start.Seconds(), 0.001)
	assert.InDelta(t, 5.0, cues[0].End.Seconds(), 0.001)
}

func TestFormatSRT(t *testing.T) {
	cues := []SubtitleCue{
		{Start: 3 * time.Second, End: 6 * time.Second, Text: "Hello"},
		{Start: 90 * time.Second, End: 93 * time.Second, Text: "World"},
	}
	srt := FormatSRT(cues)
	assert.Contains(t, srt, "1\n00:00:03,000 --> 00:00:06,000\nHello")
	assert.Contains(t, srt, "2\n00:01:30,000 --> 00:01:33,000\nWorld")
}

func TestConvertSubtitleSkipsWithoutModel(t *testing.T) {
	bus := events.NewBus(logger.Nop(), 16)
	require.NoError(t, bus.Start())
	defer bus.Stop()

	runner := &scriptedRunner{}
	task := NewConvertSubtitleTask(logger.Nop(), NewPool(2), runner, bus, "ffmpeg", "movie.mkv",
		0, "eng", filepath.Join(t.TempDir(), "tessdata"), "", "out.srt")

	require.NoError(t, task.Run(context.Background()))
	assert.True(t, task.Skipped())
	assert.Zero(t, runner.calls, "no OCR invocation without a model")
}

func TestConvertSubtitleWithModel(t *testing.T) {
	tessdata := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tessdata, "eng.traineddata"), []byte("model"), 0o644))
	outputPath := filepath.Join(t.TempDir(), "out.srt")

	ocrOutput := "pts_time:3.0\nlavfi.ocr.text=Recognized text\n"
	runner := &scriptedRunner{outputs: [][]byte{[]byte(ocrOutput)}}

	cues, err := ConvertSubtitle(context.Background(), logger.Nop(), NewPool(2), runner, nil,
		"ffmpeg", "movie.mkv", 0, "eng", tessdata, "http://unused.example", outputPath)
	require.NoError(t, err)
	require.Len(t, cues, 1)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Recognized text")
}

func TestSpriteSheetGeneration(t *testing.T) {
	outputDir := t.TempDir()
	frameDir := filepath.Join(outputDir, "frames")

	runner := &scriptedRunner{}
	runner.onCall = func(call int, cmd string, args []string) {
		if call == 0 {
			// Thumbnail extraction populates the frame folder.
			for i := 1; i <= 5; i++ {
				os.WriteFile(filepath.Join(frameDir, fmt.Sprintf("%05d.jpg", i)), []byte("jpg"), 0o644)
			}
			return
		}
		// Tiling writes one sheet.
		os.WriteFile(filepath.Join(outputDir, "sprite_0000.jpg"), []byte("sheet"), 0o644)
	}

	indexPath, err := GenerateSprites(context.Background(), logger.Nop(), NewPool(2), runner,
		"ffmpeg", "movie.mkv", outputDir, 50*time.Second)
	require.NoError(t, err)

	content, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	vtt := string(content)
	assert.True(t, strings.HasPrefix(vtt, "WEBVTT"))
	assert.Contains(t, vtt, "#xywh=")
	assert.NoDirExists(t, frameDir, "frame folder is removed on success")
}

func TestFormatSpriteIndexGeometry(t *testing.T) {
	vtt := FormatSpriteIndex(3, 25*time.Second)

	assert.Contains(t, vtt, "00:00:00.000 --> 00:00:10.000\nsprite_0000.jpg#xywh=0,0,160,90")
	assert.Contains(t, vtt, "00:00:10.000 --> 00:00:20.000\nsprite_0000.jpg#xywh=160,0,160,90")
	// The final cue is clipped to the file duration.
	assert.Contains(t, vtt, "00:00:20.000 --> 00:00:25.000\nsprite_0000.jpg#xywh=320,0,160,90")
}
