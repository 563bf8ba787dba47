package session

import "time"

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID  string  `json:"user_id"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	VoiceID         string    `json:"voice_id"`
	Speed           float64   `json:"speed"`
	RunState        RunState  `json:"run_state"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// RunState is the lifecycle of the most recent synthesis run of a session.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Terminal reports whether a run in this state has finished.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is the progress record of one synthesis run.
type Run struct {
	ID         string     `json:"run_id"`
	State      RunState   `json:"state"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	ETA        string     `json:"eta"`
	StatusText string     `json:"status_text"`
	Error      string     `json:"error,omitempty"`
	ArtifactID string     `json:"artifact_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}
