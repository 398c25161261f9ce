package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the encode core.
const (
	TypeJobStarted       = "encode.job.started"
	TypeJobProgress      = "encode.job.progress"
	TypeJobCompleted     = "encode.job.completed"
	TypeJobFailed        = "encode.job.failed"
	TypeJobCancelled     = "encode.job.cancelled"
	TypeSegmentCompleted = "encode.segment.completed"
	TypeSubtitleOCR      = "probe.subtitle.ocr"
)

// Event is a single progress/state notification. JobID is always a string
// correlation id; numeric scheduler ids are converted at the API boundary.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	JobID     string                 `json:"job_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(eventType, jobID string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
