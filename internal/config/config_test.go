package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ffmpeg", cfg.FFmpeg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFmpeg.FFprobePath)
	assert.Equal(t, 6, cfg.HLS.SegmentDuration)
	assert.Equal(t, []string{"eng"}, cfg.HLS.PriorityLanguages)
	assert.Equal(t, 30*time.Second, cfg.Probes.Timeout)
	assert.True(t, cfg.Hardware.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().HLS.SegmentDuration, cfg.HLS.SegmentDuration)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helios.yaml")
	data := `
ffmpeg:
  ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
hls:
  segment_duration: 4
  priority_languages: [jpn, eng]
probes:
  max_concurrent: 8
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpeg.FFmpegPath)
	assert.Equal(t, 4, cfg.HLS.SegmentDuration)
	assert.Equal(t, []string{"jpn", "eng"}, cfg.HLS.PriorityLanguages)
	assert.Equal(t, 8, cfg.Probes.MaxConcurrent)
	// Untouched sections keep their defaults.
	assert.Equal(t, "ffprobe", cfg.FFmpeg.FFprobePath)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helios.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ffmpeg: [not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HELIOS_FFMPEG_PATH", "/usr/local/bin/ffmpeg")
	t.Setenv("HELIOS_LOG_LEVEL", "debug")
	t.Setenv("HELIOS_PROBE_CONCURRENCY", "4")
	t.Setenv("HELIOS_HW_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpeg.FFmpegPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Probes.MaxConcurrent)
	assert.False(t, cfg.Hardware.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty ffmpeg path", func(c *Config) { c.FFmpeg.FFmpegPath = "" }},
		{"empty ffprobe path", func(c *Config) { c.FFmpeg.FFprobePath = "" }},
		{"negative probe concurrency", func(c *Config) { c.Probes.MaxConcurrent = -1 }},
		{"zero retry attempts", func(c *Config) { c.Probes.RetryAttempts = 0 }},
		{"segment duration too short", func(c *Config) { c.HLS.SegmentDuration = 0 }},
		{"segment duration too long", func(c *Config) { c.HLS.SegmentDuration = 31 }},
		{"zero playlist probe concurrency", func(c *Config) { c.HLS.ProbeConcurrency = 0 }},
		{"zero event buffer", func(c *Config) { c.Events.BufferSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
