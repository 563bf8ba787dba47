package artifacts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Filename is the download name offered for every artifact.
const Filename = "full_audiobook.wav"

// Artifact is one finished narration: the encoded WAV plus the parameters
// that produced it. Artifacts are immutable once saved.
type Artifact struct {
	ID          string    `json:"artifact_id"`
	SessionID   string    `json:"session_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Voice       string    `json:"voice"`
	Speed       float64   `json:"speed"`
	SampleRate  int       `json:"sample_rate"`
	SampleCount int       `json:"sample_count"`
	ChunkCount  int       `json:"chunk_count"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	WAV         []byte    `json:"-"`
}

// Duration is the playback length of the audio.
func (a Artifact) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(a.SampleCount) * time.Second / time.Duration(a.SampleRate)
}

// Meta returns a copy without the audio payload.
func (a Artifact) Meta() Artifact {
	a.WAV = nil
	return a
}

type Store interface {
	Save(ctx context.Context, a Artifact) error
	Get(ctx context.Context, id string) (Artifact, error)
	// ListBySession returns metadata only, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Artifact, error)
	Close() error
}

// NewStore picks postgres when databaseURL is set, then sqlite when
// sqlitePath is set, otherwise an in-memory store.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, sqlitePath)
	}
	return NewInMemoryStore(0), nil
}

func normalize(a Artifact) Artifact {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.SizeBytes = len(a.WAV)
	return a
}
