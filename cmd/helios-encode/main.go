// helios-encode runs the encode core from the command line: full adaptive
// encodes plus the standalone probe tasks (analyze, fingerprint, chapters,
// fonts, sprites).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heliosmedia/helios/internal/config"
	"github.com/heliosmedia/helios/internal/encoder"
	"github.com/heliosmedia/helios/internal/events"
	"github.com/heliosmedia/helios/internal/ffmpeg"
	"github.com/heliosmedia/helios/internal/hardware"
	"github.com/heliosmedia/helios/internal/hls"
	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/probes"
	"github.com/heliosmedia/helios/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "encode":
		err = runEncode(args)
	case "analyze":
		err = runAnalyze(args)
	case "fingerprint":
		err = runFingerprint(args)
	case "chapters":
		err = runChapters(args)
	case "fonts":
		err = runFonts(args)
	case "sprites":
		err = runSprites(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: helios-encode <command> [flags]

commands:
  encode       run an adaptive encode of one input file
  analyze      probe a file and print its stream analysis as JSON
  fingerprint  print the acoustic fingerprint of a file
  chapters     extract embedded chapters as a WebVTT file
  fonts        extract embedded font attachments
  sprites      generate seek-preview sprite sheets`)
}

// env assembles the shared collaborators every command needs.
type env struct {
	cfg    *config.Config
	log    logger.Logger
	runner types.CommandRunner
	pool   *probes.Pool
}

func newEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		log:    logger.New("helios", cfg.Logging.Level),
		runner: &ffmpeg.DefaultCommandRunner{},
		pool:   probes.NewPool(cfg.Probes.MaxConcurrent),
	}, nil
}

// signalContext cancels on SIGINT/SIGTERM so a ctrl-c kills the encoder
// process tree cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	output := fs.String("output", "", "output folder")
	profilePath := fs.String("profile", "", "encoder profile YAML file")
	name := fs.String("name", "", "master playlist base name (default: profile name)")
	separate := fs.Bool("separate", false, "encode each rendition as its own process")
	detectCrop := fs.Bool("crop", false, "detect and apply black-bar cropping")
	start := fs.Duration("start", 0, "encode from this offset (preview)")
	window := fs.Duration("window", 0, "encode only this much input (preview)")
	fs.Parse(args)

	if *input == "" || *output == "" {
		return fmt.Errorf("encode requires -input and -output")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}

	profile, err := loadProfile(*profilePath)
	if err != nil {
		return err
	}

	bus := events.NewBus(e.log, e.cfg.Events.BufferSize)
	if err := bus.Start(); err != nil {
		return err
	}
	defer bus.Stop()
	bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeJobProgress {
			if pct, ok := ev.Data["percentage"].(float64); ok && pct > 0 {
				fmt.Fprintf(os.Stderr, "\rprogress: %5.1f%%", pct)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "\n%s %s\n", ev.Type, ev.JobID)
	})

	analyzer := media.NewAnalyzer(e.log, e.runner, e.cfg.FFmpeg.FFprobePath)
	analyzer.SetRetryPolicy(e.cfg.Probes.Timeout, e.cfg.Probes.RetryAttempts, e.cfg.Probes.RetryBackoff)
	detector := hardware.NewDetector(e.log, e.runner, e.cfg.FFmpeg.FFmpegPath, e.cfg.Hardware.Enabled)
	selector := hardware.NewSelector(detector)
	selector.SetPreferredVendor(e.cfg.Hardware.PreferredVendor)
	builder := ffmpeg.NewCommandBuilder(e.log, selector, e.cfg.HLS.SegmentDuration, e.cfg.FFmpeg.Threads)
	executor := ffmpeg.NewExecutor(e.log, e.cfg.FFmpeg.FFmpegPath)
	playlist := hls.NewGenerator(e.log, e.runner, e.cfg.FFmpeg.FFprobePath,
		e.cfg.HLS.SegmentDuration, e.cfg.HLS.PriorityLanguages, e.cfg.HLS.ProbeConcurrency)

	service := encoder.NewService(e.log, e.cfg, analyzer, selector, builder, executor, playlist, e.pool, e.runner, bus)

	mode := types.OutputModeCombined
	if *separate {
		mode = types.OutputModeSeparateStreams
	}

	ctx, cancel := signalContext()
	defer cancel()

	started := time.Now()
	result, err := service.Encode(ctx, &encoder.EncodeRequest{
		InputPath:   *input,
		OutputDir:   *output,
		BaseName:    *name,
		Profile:     profile,
		Mode:        mode,
		DetectCrop:  *detectCrop,
		StartOffset: *start,
		Window:      *window,
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if encoder.IsCancelled(err) {
			fmt.Println("encode cancelled")
			return nil
		}
		return err
	}
	fmt.Printf("encode complete: %s (%s)\n", result.OutputPath, time.Since(started).Round(time.Second))
	return nil
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	fs.Parse(args)
	if *input == "" {
		return fmt.Errorf("analyze requires -input")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	analyzer := media.NewAnalyzer(e.log, e.runner, e.cfg.FFmpeg.FFprobePath)
	analysis, err := analyzer.Analyze(ctx, *input)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runFingerprint(args []string) error {
	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	fs.Parse(args)
	if *input == "" {
		return fmt.Errorf("fingerprint requires -input")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	fingerprint, err := probes.Fingerprint(ctx, e.pool, e.runner, e.cfg.FFmpeg.FpcalcPath, *input)
	if err != nil {
		return err
	}
	fmt.Println(fingerprint)
	return nil
}

func runChapters(args []string) error {
	fs := flag.NewFlagSet("chapters", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	output := fs.String("output", "chapters.vtt", "output WebVTT file")
	fs.Parse(args)
	if *input == "" {
		return fmt.Errorf("chapters requires -input")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	cues, err := probes.ExtractChapters(ctx, e.pool, e.runner, e.cfg.FFmpeg.FFprobePath, *input, *output)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d chapters to %s\n", len(cues), *output)
	return nil
}

func runFonts(args []string) error {
	fs := flag.NewFlagSet("fonts", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	output := fs.String("output", "fonts", "destination folder")
	fs.Parse(args)
	if *input == "" {
		return fmt.Errorf("fonts requires -input")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	entries, err := probes.ExtractFonts(ctx, e.log, e.pool, e.runner,
		e.cfg.FFmpeg.FFmpegPath, e.cfg.FFmpeg.FFprobePath, *input, *output)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %d attachments to %s\n", len(entries), *output)
	return nil
}

func runSprites(args []string) error {
	fs := flag.NewFlagSet("sprites", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	input := fs.String("input", "", "input media file")
	output := fs.String("output", "sprites", "destination folder")
	fs.Parse(args)
	if *input == "" {
		return fmt.Errorf("sprites requires -input")
	}

	e, err := newEnv(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	duration, err := probes.Duration(ctx, e.pool, e.runner, e.cfg.FFmpeg.FFprobePath, *input)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*output, 0o755); err != nil {
		return err
	}
	indexPath, err := probes.GenerateSprites(ctx, e.log, e.pool, e.runner,
		e.cfg.FFmpeg.FFmpegPath, *input, *output, duration)
	if err != nil {
		return err
	}
	fmt.Printf("sprite index written to %s\n", indexPath)
	return nil
}

// loadProfile reads an encoder profile from YAML, or returns the built-in
// default ladder when no path is given.
func loadProfile(path string) (*types.EncoderProfile, error) {
	if path == "" {
		return defaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var profile types.EncoderProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("profile %s has no name", path)
	}
	return &profile, nil
}

func defaultProfile() *types.EncoderProfile {
	return &types.EncoderProfile{
		Name:      "default",
		Container: "hls",
		Videos: []types.VideoProfile{
			{Codec: "h264", Bitrate: 5000, Width: 1920, Height: 1080, Preset: "fast", ConvertToSDR: true},
			{Codec: "h264", Bitrate: 2500, Width: 1280, Height: 720, Preset: "fast", ConvertToSDR: true},
		},
		Audios: []types.AudioProfile{
			{Codec: "aac", Channels: 2, SampleRate: 48000, Bitrate: 128},
		},
	}
}
