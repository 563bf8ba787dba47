package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrEnded         = errors.New("session ended")
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrStaleRun      = errors.New("run is not the session's current run")
)

// Session carries the per-client narration state: defaults for new runs and
// the state of the latest run. At most one run is in flight per session.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	VoiceID        string    `json:"voice_id"`
	Speed          float64   `json:"speed"`
	RunState       RunState  `json:"run_state"`
	Run            *Run      `json:"run,omitempty"`
	RunCount       int       `json:"run_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Busy reports whether a run is in flight.
func (s *Session) Busy() bool {
	return s.RunState == RunRunning
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, voiceID string, speed float64) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		VoiceID:        voiceID,
		Speed:          speed,
		Status:         StatusActive,
		RunState:       RunIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = m.now()
	return nil
}

// BeginRun moves the session into the running state under runID. It fails
// without side effects when the session is unknown, ended or busy.
func (m *Manager) BeginRun(sessionID, runID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrEnded
	}
	if s.RunState == RunRunning {
		return nil, ErrRunInProgress
	}
	now := m.now()
	s.RunState = RunRunning
	s.RunCount++
	s.Run = &Run{
		ID:        runID,
		State:     RunRunning,
		ETA:       "N/A",
		StartedAt: now,
	}
	s.LastActivityAt = now
	return clone(s), nil
}

// UpdateProgress records chunk progress for the current run.
func (m *Manager) UpdateProgress(sessionID, runID string, completed, total int, eta, statusText string) error {
	return m.withRun(sessionID, runID, func(s *Session) {
		s.Run.Completed = completed
		s.Run.Total = total
		s.Run.ETA = eta
		s.Run.StatusText = statusText
	})
}

// SetStatus replaces the human-readable status of the current run.
func (m *Manager) SetStatus(sessionID, runID, statusText string) error {
	return m.withRun(sessionID, runID, func(s *Session) {
		s.Run.StatusText = statusText
	})
}

// CompleteRun finishes the current run successfully and clears the busy state.
func (m *Manager) CompleteRun(sessionID, runID, artifactID, statusText string) error {
	return m.withRun(sessionID, runID, func(s *Session) {
		end := m.now()
		s.RunState = RunCompleted
		s.Run.State = RunCompleted
		s.Run.ArtifactID = artifactID
		s.Run.StatusText = statusText
		s.Run.EndedAt = &end
	})
}

// FailRun finishes the current run with errMsg and clears the busy state.
func (m *Manager) FailRun(sessionID, runID, errMsg string) error {
	return m.withRun(sessionID, runID, func(s *Session) {
		end := m.now()
		s.RunState = RunFailed
		s.Run.State = RunFailed
		s.Run.Error = errMsg
		s.Run.StatusText = "Error: " + errMsg
		s.Run.EndedAt = &end
	})
}

func (m *Manager) withRun(sessionID, runID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Run == nil || s.Run.ID != runID {
		return ErrStaleRun
	}
	fn(s)
	s.LastActivityAt = m.now()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = m.now()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// RunningCount reports sessions with a run in flight.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.RunState == RunRunning {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded && s.RunState != RunRunning {
			if now.Sub(s.LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		// A long narration keeps its session alive until the run settles.
		if s.RunState == RunRunning {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	if s.Run != nil {
		run := *s.Run
		if s.Run.EndedAt != nil {
			end := *s.Run.EndedAt
			run.EndedAt = &end
		}
		c.Run = &run
	}
	return &c
}
