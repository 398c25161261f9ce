//go:build !windows

package ffmpeg

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

func TestBuildProgressFromRecord(t *testing.T) {
	record := map[string]string{
		"frame":       "1500",
		"fps":         "62.5",
		"bitrate":     "5200.1kbits/s",
		"out_time_us": "60000000",
		"speed":       "2.5x",
	}
	progress := buildProgress(record, time.Now().Add(-time.Minute), 10*time.Minute)

	assert.Equal(t, int64(1500), progress.Frame)
	assert.InDelta(t, 62.5, progress.FPS, 0.001)
	assert.InDelta(t, 2.5, progress.Speed, 0.001)
	assert.Equal(t, "5200.1kbits/s", progress.Bitrate)
	assert.InDelta(t, 10.0, progress.Percentage, 0.001)
	// 9 minutes of input left at 2.5x realtime is 216s of wall clock.
	assert.InDelta(t, 216, progress.Remaining.Seconds(), 1)
}

func TestBuildProgressWithoutTotalDuration(t *testing.T) {
	progress := buildProgress(map[string]string{"frame": "10"}, time.Now(), 0)
	assert.Zero(t, progress.Percentage)
	assert.Zero(t, progress.Remaining)
}

func TestBuildProgressClampsOverrun(t *testing.T) {
	record := map[string]string{"out_time_us": "700000000"}
	progress := buildProgress(record, time.Now(), 10*time.Minute)
	assert.InDelta(t, 100, progress.Percentage, 0.001)
}

func TestParseOutTime(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]string
		want   time.Duration
	}{
		{"microsecond field", map[string]string{"out_time_us": "90500000"}, 90500 * time.Millisecond},
		{"formatted field", map[string]string{"out_time": "01:02:03.500000"}, time.Hour + 2*time.Minute + 3*time.Second + 500*time.Millisecond},
		{"missing", map[string]string{}, 0},
		{"garbage", map[string]string{"out_time": "n/a"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOutTime(tt.record))
		})
	}
}

func TestDurationPattern(t *testing.T) {
	line := "  Duration: 01:30:05.25, start: 0.000000, bitrate: 12000 kb/s"
	matches := durationPattern.FindStringSubmatch(line)
	require.NotNil(t, matches)
	assert.Equal(t, []string{matches[0], "01", "30", "05", "25"}, matches)
}

func TestExecuteSuccess(t *testing.T) {
	executor := NewExecutor(logger.Nop(), "true")

	var pid int
	result, err := executor.Execute(context.Background(), nil, "", func(p int) { pid = p }, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Cancelled)
	assert.Zero(t, result.ExitCode)
	assert.Positive(t, pid)
}

func TestExecuteFailureCarriesExitCode(t *testing.T) {
	executor := NewExecutor(logger.Nop(), "false")

	result, err := executor.Execute(context.Background(), nil, "", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)
}

func TestExecuteCancellationKillsProcess(t *testing.T) {
	executor := NewExecutor(logger.Nop(), "sleep")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	result, err := executor.Execute(ctx, []string{"30"}, "", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestExecuteSilent(t *testing.T) {
	executor := NewExecutor(logger.Nop(), "true")
	result, err := executor.ExecuteSilent(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestProgressRecordStream(t *testing.T) {
	// Two complete records the way the encoder writes them, terminated by
	// the continue/end sentinels.
	stream := "frame=100\nout_time_us=30000000\nspeed=1.5x\nprogress=continue\n" +
		"frame=200\nout_time_us=60000000\nspeed=1.5x\nprogress=end\n"

	executor := NewExecutor(logger.Nop(), "ffmpeg")
	var buf bytes.Buffer
	var samples []types.EncodingProgress
	executor.readProgress(strings.NewReader(stream), &buf, time.Now(), func() time.Duration { return 2 * time.Minute }, func(p types.EncodingProgress) {
		samples = append(samples, p)
	})

	require.Len(t, samples, 2)
	assert.Equal(t, int64(100), samples[0].Frame)
	assert.InDelta(t, 25, samples[0].Percentage, 0.001)
	assert.Equal(t, int64(200), samples[1].Frame)
	assert.InDelta(t, 50, samples[1].Percentage, 0.001)
	assert.InDelta(t, 1.5, samples[1].Speed, 0.001)
	assert.Equal(t, stream, buf.String())
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "d\ne", tailLines("a\nb\nc\nd\ne\n", 2))
	assert.Equal(t, "a", tailLines("a", 3))
}
