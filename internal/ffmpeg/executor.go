package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/types"
)

// ProgressCallback receives progress samples during an encode. It runs on
// the executor's read loop and must not block on the encode completing.
type ProgressCallback func(types.EncodingProgress)

// ExecutionResult is the terminal state of one encoder invocation.
type ExecutionResult struct {
	Success   bool
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Cancelled bool
}

// durationPattern matches the total-duration line ffmpeg prints on stderr
// while opening the input.
var durationPattern = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2})\.(\d{2})`)

// Executor runs encoder processes and streams their progress.
type Executor struct {
	logger     logger.Logger
	ffmpegPath string
	controller ProcessController
}

// NewExecutor creates an Executor using the platform process controller.
func NewExecutor(log logger.Logger, ffmpegPath string) *Executor {
	return &Executor{
		logger:     log.Named("executor"),
		ffmpegPath: ffmpegPath,
		controller: newProcessController(),
	}
}

// Controller exposes pause/resume/cancel by process id.
func (e *Executor) Controller() ProcessController {
	return e.controller
}

// Execute runs the encoder with a machine-readable progress stream on
// stdout. Progress records are pushed to onProgress as they complete, and
// onStart (optional) receives the process id before the first record so
// callers can pause or resume the encode. Cancellation kills the whole
// process tree and yields a Cancelled result rather than an error.
func (e *Executor) Execute(ctx context.Context, args []string, workDir string, onStart func(pid int), onProgress ProgressCallback) (*ExecutionResult, error) {
	fullArgs := append([]string{"-progress", "pipe:1", "-nostats"}, args...)

	cmd := exec.Command(e.ffmpegPath, fullArgs...)
	cmd.Dir = workDir
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	e.logger.Info("encoder started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	// A cancelled context kills the process group so filter subprocesses
	// die with the encoder.
	done := make(chan struct{})
	cancelled := false
	var cancelMu sync.Mutex
	go func() {
		select {
		case <-ctx.Done():
			cancelMu.Lock()
			cancelled = true
			cancelMu.Unlock()
			if err := e.controller.Cancel(cmd.Process.Pid); err != nil {
				e.logger.Warn("failed to kill encoder process group", "pid", cmd.Process.Pid, "error", err)
			}
		case <-done:
		}
	}()

	var totalDuration time.Duration
	var totalMu sync.Mutex
	var stderrBuf bytes.Buffer
	var stdoutBuf bytes.Buffer

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.readDiagnostics(stderr, &stderrBuf, func(d time.Duration) {
			totalMu.Lock()
			totalDuration = d
			totalMu.Unlock()
		})
	}()
	go func() {
		defer wg.Done()
		e.readProgress(stdout, &stdoutBuf, started, func() time.Duration {
			totalMu.Lock()
			defer totalMu.Unlock()
			return totalDuration
		}, onProgress)
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	cancelMu.Lock()
	wasCancelled := cancelled
	cancelMu.Unlock()

	result := &ExecutionResult{
		Success:   waitErr == nil && !wasCancelled,
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(started),
		Cancelled: wasCancelled,
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}

	if wasCancelled {
		e.logger.Info("encoder cancelled", "pid", cmd.Process.Pid, "elapsed", result.Duration)
		return result, nil
	}
	if waitErr != nil {
		e.logger.Error("encoder failed", "pid", cmd.Process.Pid, "exit_code", result.ExitCode, "stderr_tail", tailLines(result.Stderr, 5))
		return result, nil
	}

	e.logger.Info("encoder finished", "pid", cmd.Process.Pid, "elapsed", result.Duration)
	return result, nil
}

// ExecuteSilent runs a short diagnostic invocation with no progress stream.
func (e *Executor) ExecuteSilent(ctx context.Context, args []string) (*ExecutionResult, error) {
	started := time.Now()
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecutionResult{
		Success:  err == nil,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		result.Cancelled = true
		result.Success = false
	}
	return result, nil
}

// readDiagnostics captures stderr and reports the total input duration the
// first time ffmpeg prints it.
func (e *Executor) readDiagnostics(r io.Reader, buf *bytes.Buffer, onDuration func(time.Duration)) {
	reported := false
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')

		if !reported {
			if matches := durationPattern.FindStringSubmatch(line); matches != nil {
				hours, _ := strconv.Atoi(matches[1])
				minutes, _ := strconv.Atoi(matches[2])
				seconds, _ := strconv.Atoi(matches[3])
				centis, _ := strconv.Atoi(matches[4])
				onDuration(time.Duration(hours)*time.Hour +
					time.Duration(minutes)*time.Minute +
					time.Duration(seconds)*time.Second +
					time.Duration(centis)*10*time.Millisecond)
				reported = true
			}
		}
	}
}

// readProgress accumulates key=value lines into records and converts each
// completed record into an EncodingProgress.
func (e *Executor) readProgress(r io.Reader, buf *bytes.Buffer, started time.Time, total func() time.Duration, onProgress ProgressCallback) {
	record := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key != "progress" {
			record[key] = value
			continue
		}

		if onProgress != nil {
			onProgress(buildProgress(record, started, total()))
		}
		record = make(map[string]string)
	}
}

// buildProgress converts one completed progress record into a sample.
// Percentage comes from out_time against the total duration when known.
func buildProgress(record map[string]string, started time.Time, total time.Duration) types.EncodingProgress {
	progress := types.EncodingProgress{
		Elapsed: time.Since(started),
		Bitrate: record["bitrate"],
	}

	if v, err := strconv.ParseInt(record["frame"], 10, 64); err == nil {
		progress.Frame = v
	}
	if v, err := strconv.ParseFloat(record["fps"], 64); err == nil {
		progress.FPS = v
	}
	if speed := strings.TrimSuffix(record["speed"], "x"); speed != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(speed), 64); err == nil {
			progress.Speed = v
		}
	}

	outTime := parseOutTime(record)
	if total > 0 && outTime > 0 {
		pct := outTime.Seconds() / total.Seconds() * 100
		if pct > 100 {
			pct = 100
		}
		progress.Percentage = pct

		if progress.Speed > 0 {
			remaining := total - outTime
			progress.Remaining = time.Duration(float64(remaining) / progress.Speed)
		}
	}
	return progress
}

// parseOutTime reads the encoded position from a record, preferring the
// microsecond field over the formatted one.
func parseOutTime(record map[string]string) time.Duration {
	if us, err := strconv.ParseInt(record["out_time_us"], 10, 64); err == nil && us > 0 {
		return time.Duration(us) * time.Microsecond
	}
	if ms, err := strconv.ParseInt(record["out_time_ms"], 10, 64); err == nil && ms > 0 {
		return time.Duration(ms) * time.Microsecond
	}
	// out_time is HH:MM:SS.micros
	parts := strings.Split(record["out_time"], ":")
	if len(parts) != 3 {
		return 0
	}
	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	seconds, _ := strconv.ParseFloat(parts[2], 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
