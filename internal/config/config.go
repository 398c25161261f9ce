// Package config holds the encode core configuration. Configuration is
// loaded from an optional YAML file and overridden by HELIOS_* environment
// variables; every section has sane defaults so a zero-config start works.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the encode core.
type Config struct {
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg" json:"ffmpeg"`
	Probes   ProbesConfig   `yaml:"probes" json:"probes"`
	HLS      HLSConfig      `yaml:"hls" json:"hls"`
	Hardware HardwareConfig `yaml:"hardware" json:"hardware"`
	Events   EventsConfig   `yaml:"events" json:"events"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// FFmpegConfig contains tool paths and execution settings.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" json:"ffprobe_path"`
	FpcalcPath  string `yaml:"fpcalc_path" json:"fpcalc_path"`
	Threads     int    `yaml:"threads" json:"threads"` // 0 = auto
}

// ProbesConfig bounds concurrent probe invocations.
type ProbesConfig struct {
	// MaxConcurrent caps simultaneous probe processes. 0 sizes the pool
	// from the host core count, clamped to [2,16].
	MaxConcurrent   int           `yaml:"max_concurrent" json:"max_concurrent"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	TessdataDir     string        `yaml:"tessdata_dir" json:"tessdata_dir"`
	TessdataRepoURL string        `yaml:"tessdata_repo_url" json:"tessdata_repo_url"`
}

// HLSConfig controls adaptive output packaging.
type HLSConfig struct {
	SegmentDuration   int      `yaml:"segment_duration" json:"segment_duration"`
	PriorityLanguages []string `yaml:"priority_languages" json:"priority_languages"`
	// ProbeConcurrency bounds per-rendition metadata probing during
	// master playlist generation.
	ProbeConcurrency int `yaml:"probe_concurrency" json:"probe_concurrency"`
}

// HardwareConfig controls accelerator detection.
type HardwareConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PreferredVendor forces a vendor when set (nvidia, amd, intel, apple).
	PreferredVendor string `yaml:"preferred_vendor" json:"preferred_vendor"`
}

// EventsConfig controls the progress/state event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			FpcalcPath:  "fpcalc",
			Threads:     0,
		},
		Probes: ProbesConfig{
			MaxConcurrent:   0,
			Timeout:         30 * time.Second,
			RetryAttempts:   3,
			RetryBackoff:    500 * time.Millisecond,
			TessdataDir:     defaultTessdataDir(),
			TessdataRepoURL: "https://github.com/tesseract-ocr/tessdata/raw/main",
		},
		HLS: HLSConfig{
			SegmentDuration:   6,
			PriorityLanguages: []string{"eng"},
			ProbeConcurrency:  3,
		},
		Hardware: HardwareConfig{
			Enabled: true,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultTessdataDir() string {
	if dir := os.Getenv("HELIOS_DATA_DIR"); dir != "" {
		return dir + "/tessdata"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tessdata"
	}
	return home + "/.helios/tessdata"
}

// Load reads the configuration from path (missing file is not an error),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HELIOS_FFMPEG_PATH"); v != "" {
		c.FFmpeg.FFmpegPath = v
	}
	if v := os.Getenv("HELIOS_FFPROBE_PATH"); v != "" {
		c.FFmpeg.FFprobePath = v
	}
	if v := os.Getenv("HELIOS_FPCALC_PATH"); v != "" {
		c.FFmpeg.FpcalcPath = v
	}
	if v := os.Getenv("HELIOS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HELIOS_PROBE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Probes.MaxConcurrent = n
		}
	}
	if v := os.Getenv("HELIOS_HW_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Hardware.Enabled = b
		}
	}
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	if c.FFmpeg.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path cannot be empty")
	}
	if c.FFmpeg.FFprobePath == "" {
		return fmt.Errorf("ffprobe path cannot be empty")
	}
	if c.Probes.MaxConcurrent < 0 {
		return fmt.Errorf("probes.max_concurrent cannot be negative")
	}
	if c.Probes.RetryAttempts < 1 {
		return fmt.Errorf("probes.retry_attempts must be at least 1")
	}
	if c.HLS.SegmentDuration < 1 || c.HLS.SegmentDuration > 30 {
		return fmt.Errorf("hls.segment_duration must be between 1 and 30 seconds")
	}
	if c.HLS.ProbeConcurrency < 1 {
		return fmt.Errorf("hls.probe_concurrency must be at least 1")
	}
	if c.Events.BufferSize < 1 {
		return fmt.Errorf("events.buffer_size must be at least 1")
	}
	return nil
}
