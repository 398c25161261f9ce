package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heliosmedia/helios/internal/config"
	"github.com/heliosmedia/helios/internal/events"
	"github.com/heliosmedia/helios/internal/ffmpeg"
	"github.com/heliosmedia/helios/internal/hardware"
	"github.com/heliosmedia/helios/internal/hls"
	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/probes"
	"github.com/heliosmedia/helios/internal/types"
)

// EncodeRequest describes one encode job.
type EncodeRequest struct {
	// JobID correlates progress events. Empty generates a fresh id.
	JobID     string
	InputPath string
	OutputDir string
	// BaseName names the master playlist. Empty uses the profile name.
	BaseName string
	Profile  *types.EncoderProfile
	Mode     types.OutputMode
	// DetectCrop runs crop detection before encoding and applies the
	// winning rectangle to every video rendition.
	DetectCrop bool
	// StartOffset and Window restrict the encode to a slice of the input
	// for preview encodes.
	StartOffset time.Duration
	Window      time.Duration
}

// job tracks one in-flight encode.
type job struct {
	id      string
	cancel  context.CancelFunc
	started time.Time

	mu  sync.Mutex
	pid int
}

func (j *job) setPid(pid int) {
	j.mu.Lock()
	j.pid = pid
	j.mu.Unlock()
}

func (j *job) currentPid() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pid
}

// Service sequences one encode job end to end: analyze, select codecs,
// lay out the output, synthesize commands, execute and package.
type Service struct {
	logger   logger.Logger
	cfg      *config.Config
	analyzer *media.Analyzer
	selector *hardware.Selector
	builder  *ffmpeg.CommandBuilder
	executor *ffmpeg.Executor
	playlist *hls.Generator
	pool     *probes.Pool
	runner   types.CommandRunner
	bus      events.Publisher

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewService wires the encode pipeline from its collaborators.
func NewService(log logger.Logger, cfg *config.Config, analyzer *media.Analyzer, selector *hardware.Selector, builder *ffmpeg.CommandBuilder, executor *ffmpeg.Executor, playlist *hls.Generator, pool *probes.Pool, runner types.CommandRunner, bus events.Publisher) *Service {
	return &Service{
		logger:   log.Named("encoder"),
		cfg:      cfg,
		analyzer: analyzer,
		selector: selector,
		builder:  builder,
		executor: executor,
		playlist: playlist,
		pool:     pool,
		runner:   runner,
		bus:      bus,
		jobs:     make(map[string]*job),
	}
}

// Encode runs one job to completion. Rendition failures in separate-streams
// mode are collected rather than aborting siblings; job success requires
// every rendition to succeed. Partial output stays on disk in all failure
// modes.
func (s *Service) Encode(ctx context.Context, req *EncodeRequest) (*types.EncodingResult, error) {
	if req.Profile == nil {
		return nil, fmt.Errorf("encode request requires a profile")
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	baseName := req.BaseName
	if baseName == "" {
		baseName = req.Profile.Name
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{id: jobID, cancel: cancel, started: time.Now()}
	s.mu.Lock()
	s.jobs[jobID] = j
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	}()

	s.publish(events.TypeJobStarted, jobID, map[string]interface{}{
		"input":   req.InputPath,
		"profile": req.Profile.Name,
		"mode":    req.Mode.String(),
	})

	result, err := s.run(jobCtx, j, req, jobID, baseName)
	switch {
	case err != nil && IsCancelled(err):
		s.publish(events.TypeJobCancelled, jobID, nil)
	case err != nil:
		s.publish(events.TypeJobFailed, jobID, map[string]interface{}{"error": err.Error()})
	default:
		s.publish(events.TypeJobCompleted, jobID, map[string]interface{}{
			"output":  result.OutputPath,
			"elapsed": result.Duration.String(),
		})
	}
	return result, err
}

func (s *Service) run(ctx context.Context, j *job, req *EncodeRequest, jobID, baseName string) (*types.EncodingResult, error) {
	for _, vp := range req.Profile.Videos {
		if !hardware.IsSupportedCodec(vp.Codec) {
			return nil, &EncodeError{
				Class:   ClassUnsupportedCodec,
				JobID:   jobID,
				Message: fmt.Sprintf("codec %q is not supported", vp.Codec),
			}
		}
	}

	analysis, err := s.analyzer.Analyze(ctx, req.InputPath)
	if err != nil {
		return nil, &EncodeError{
			Class:   ClassAnalysisFailure,
			JobID:   jobID,
			Message: fmt.Sprintf("analysis of %s failed", req.InputPath),
			Err:     err,
		}
	}
	if !analysis.HasPlayableStream() {
		return nil, &EncodeError{
			Class:   ClassAnalysisFailure,
			JobID:   jobID,
			Message: fmt.Sprintf("%s has no playable streams", req.InputPath),
		}
	}

	opts := ffmpeg.BuildOptions{
		Mode:        req.Mode,
		StartOffset: req.StartOffset,
		Window:      req.Window,
	}
	if req.DetectCrop && len(analysis.VideoStreams) > 0 {
		crop, cropErr := probes.CropDetect(ctx, s.logger, s.pool, s.runner, s.cfg.FFmpeg.FFmpegPath, req.InputPath, analysis.Duration)
		if cropErr != nil {
			s.logger.Warn("crop detection failed, encoding uncropped", "job_id", jobID, "error", cropErr)
		} else {
			opts.Crop = crop
		}
	}

	structure, err := hls.CreateOutputStructure(req.OutputDir, baseName, analysis, req.Profile)
	if err != nil {
		return nil, err
	}
	if err := structure.EnsureDirectories(); err != nil {
		return nil, err
	}

	commands, err := s.builder.Build(ctx, analysis, req.Profile, structure, opts)
	if err != nil {
		return nil, err
	}

	watcher, err := newSegmentWatcher(s.logger, s.bus, jobID, structure)
	if err != nil {
		s.logger.Warn("segment watcher unavailable", "job_id", jobID, "error", err)
	} else {
		defer watcher.Close()
	}

	var failed []string
	var lastExit int
	var lastStderr string
	for i, command := range commands {
		execResult, execErr := s.executor.Execute(ctx, command.Args, req.OutputDir, j.setPid, func(p types.EncodingProgress) {
			s.publishProgress(jobID, command.Rendition, p)
		})
		if execErr != nil {
			return nil, &EncodeError{
				Class:   ClassProcessExecutionFailure,
				JobID:   jobID,
				Message: fmt.Sprintf("encoder could not be started for %s", renditionName(command, i)),
				Err:     execErr,
			}
		}
		if execResult.Cancelled {
			result := &types.EncodingResult{
				Cancelled: true,
				Duration:  time.Since(j.started),
			}
			return result, &EncodeError{Class: ClassCancelled, JobID: jobID}
		}
		if !execResult.Success {
			lastExit = execResult.ExitCode
			lastStderr = execResult.Stderr
			if req.Mode == types.OutputModeSeparateStreams {
				failed = append(failed, renditionName(command, i))
				s.logger.Error("rendition failed, continuing with siblings",
					"job_id", jobID, "rendition", command.Rendition, "exit_code", execResult.ExitCode)
				continue
			}
			return s.failureResult(j, execResult), &EncodeError{
				Class:      ClassProcessExecutionFailure,
				JobID:      jobID,
				Message:    "encode process exited with an error",
				ExitCode:   execResult.ExitCode,
				StderrTail: stderrTail(execResult.Stderr),
			}
		}
	}

	if len(failed) > 0 {
		return s.failureResult(j, nil), &EncodeError{
			Class:            ClassPartialRenditionFailure,
			JobID:            jobID,
			Message:          fmt.Sprintf("%d of %d renditions failed", len(failed), len(commands)),
			ExitCode:         lastExit,
			StderrTail:       stderrTail(lastStderr),
			FailedRenditions: failed,
		}
	}

	if err := s.playlist.GeneratePlaylists(ctx, structure, analysis.Duration); err != nil {
		return nil, fmt.Errorf("playlist generation failed: %w", err)
	}

	return &types.EncodingResult{
		Success:    true,
		OutputPath: structure.MasterPlaylistPath,
		Layout:     structure.Layout(),
		Duration:   time.Since(j.started),
	}, nil
}

// Cancel stops a running job. The process tree dies immediately; partial
// output stays on disk.
func (s *Service) Cancel(jobID string) error {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	j.cancel()
	return nil
}

// Pause suspends a job's encoder process. Returns ErrUnsupported on
// platforms without job-control signals.
func (s *Service) Pause(jobID string) error {
	return s.signalJob(jobID, s.executor.Controller().Pause)
}

// Resume continues a paused job.
func (s *Service) Resume(jobID string) error {
	return s.signalJob(jobID, s.executor.Controller().Resume)
}

func (s *Service) signalJob(jobID string, signal func(pid int) error) error {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	pid := j.currentPid()
	if pid == 0 {
		return fmt.Errorf("job %s has no running encoder process", jobID)
	}
	return signal(pid)
}

// ActiveJobs lists the ids of in-flight jobs.
func (s *Service) ActiveJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) failureResult(j *job, execResult *ffmpeg.ExecutionResult) *types.EncodingResult {
	result := &types.EncodingResult{Duration: time.Since(j.started)}
	if execResult != nil {
		result.ExitCode = execResult.ExitCode
		result.ErrorMessage = stderrTail(execResult.Stderr)
	}
	return result
}

func (s *Service) publish(eventType, jobID string, data map[string]interface{}) {
	if err := s.bus.PublishAsync(events.NewEvent(eventType, jobID, data)); err != nil {
		s.logger.Warn("event publication failed", "type", eventType, "job_id", jobID, "error", err)
	}
}

func (s *Service) publishProgress(jobID, rendition string, p types.EncodingProgress) {
	data := map[string]interface{}{
		"percentage": p.Percentage,
		"fps":        p.FPS,
		"speed":      p.Speed,
		"frame":      p.Frame,
	}
	if rendition != "" {
		data["rendition"] = rendition
	}
	s.publish(events.TypeJobProgress, jobID, data)
}

func renditionName(command ffmpeg.Command, index int) string {
	if command.Rendition != "" {
		return command.Rendition
	}
	return fmt.Sprintf("output %d", index)
}

func stderrTail(stderr string) string {
	const maxTail = 2000
	if len(stderr) > maxTail {
		return stderr[len(stderr)-maxTail:]
	}
	return stderr
}
