package pipeline

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunProgress  EventType = "run_progress"
	EventRunStatus    EventType = "run_status"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// Event is one externally observable run signal.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Completed  int       `json:"completed,omitempty"`
	Total      int       `json:"total,omitempty"`
	ETA        string    `json:"eta,omitempty"`
	Status     string    `json:"status,omitempty"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Observer receives run events in order on the run's goroutine.
type Observer func(Event)

const (
	StatusStarting  = "Starting processing..."
	StatusNothing   = "No text to process."
	StatusCombining = "Combining audio with crossfading..."
	StatusDone      = "Full audio file created successfully!"
)

func progressStatus(completed, total int, eta string) string {
	return fmt.Sprintf("Processing sentence %d of %d... (ETA: %s)", completed, total, eta)
}

func failedStatus(err error) string {
	return "Error: " + err.Error()
}
