package ffmpeg

import "errors"

// ErrUnsupported is returned by process-control operations the current
// platform cannot perform.
var ErrUnsupported = errors.New("process control operation not supported on this platform")

// ProcessController pauses, resumes and kills running encoder processes by
// process id.
type ProcessController interface {
	Pause(pid int) error
	Resume(pid int) error
	Cancel(pid int) error
}
