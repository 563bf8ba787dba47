package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists artifacts in a single embedded database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS narration_artifacts (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    voice TEXT NOT NULL,
    speed REAL NOT NULL,
    sample_rate INTEGER NOT NULL,
    sample_count INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    wav BLOB NOT NULL,
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_narration_artifacts_session_created ON narration_artifacts(session_id, created_at_ms);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init artifact schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, a Artifact) error {
	a = normalize(a)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO narration_artifacts(
			id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, wav, created_at_ms
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.SessionID, a.RunID, a.Voice, a.Speed, a.SampleRate, a.SampleCount, a.ChunkCount, a.SizeBytes, a.WAV, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Artifact, error) {
	var (
		a         Artifact
		createdMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, wav, created_at_ms
		   FROM narration_artifacts WHERE id = ?`,
		id,
	).Scan(&a.ID, &a.SessionID, &a.RunID, &a.Voice, &a.Speed, &a.SampleRate, &a.SampleCount, &a.ChunkCount, &a.SizeBytes, &a.WAV, &createdMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdMS).UTC()
	return a, nil
}

func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, created_at_ms
		   FROM narration_artifacts WHERE session_id = ? ORDER BY created_at_ms DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]Artifact, 0, limit)
	for rows.Next() {
		var (
			a         Artifact
			createdMS int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.RunID, &a.Voice, &a.Speed, &a.SampleRate, &a.SampleCount, &a.ChunkCount, &a.SizeBytes, &createdMS); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
