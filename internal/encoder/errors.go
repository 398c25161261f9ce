// Package encoder is the job-level façade: it sequences analysis, codec
// selection, layout, command synthesis, execution and playlist generation
// for one encode request.
package encoder

import (
	"errors"
	"fmt"
	"strings"
)

// FailureClass partitions job failures for callers that apply different
// retry or reporting policies per class.
type FailureClass string

const (
	// ClassAnalysisFailure covers probe timeouts, retry exhaustion and
	// malformed probe output.
	ClassAnalysisFailure FailureClass = "analysis_failure"
	// ClassUnsupportedCodec marks a profile requesting a codec family the
	// host cannot encode at all. Never retried.
	ClassUnsupportedCodec FailureClass = "unsupported_codec"
	// ClassProcessExecutionFailure marks a non-zero encoder exit. Retry
	// policy belongs to the scheduler, not this core.
	ClassProcessExecutionFailure FailureClass = "process_execution_failure"
	// ClassCancelled marks a caller-initiated cancellation. Carries no
	// error message.
	ClassCancelled FailureClass = "cancelled"
	// ClassPartialRenditionFailure marks a separate-streams job where some
	// renditions succeeded and at least one failed. Successful sibling
	// artifacts stay on disk.
	ClassPartialRenditionFailure FailureClass = "partial_rendition_failure"
)

// EncodeError is the job-level failure value. It always carries a
// human-readable message and, where an encoder process failed, the exit
// code and a stderr tail.
type EncodeError struct {
	Class      FailureClass
	JobID      string
	Message    string
	ExitCode   int
	StderrTail string
	// FailedRenditions lists the rendition folders that failed in a
	// partial failure.
	FailedRenditions []string
	Err              error
}

func (e *EncodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Class, e.Message)
	if len(e.FailedRenditions) > 0 {
		fmt.Fprintf(&b, " (renditions: %s)", strings.Join(e.FailedRenditions, ", "))
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee) && ee.Class == ClassCancelled
}

// ClassOf extracts the failure class, or empty for non-EncodeError values.
func ClassOf(err error) FailureClass {
	var ee *EncodeError
	if errors.As(err, &ee) {
		return ee.Class
	}
	return ""
}
