package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS narration_artifacts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL,
			speed DOUBLE PRECISION NOT NULL,
			sample_rate INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			wav BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_narration_artifacts_session_created ON narration_artifacts (session_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init artifact schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, a Artifact) error {
	a = normalize(a)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO narration_artifacts (
			id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, wav, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.SessionID, a.RunID, a.Voice, a.Speed, a.SampleRate, a.SampleCount, a.ChunkCount, a.SizeBytes, a.WAV, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Artifact, error) {
	var a Artifact
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, wav, created_at
		   FROM narration_artifacts WHERE id=$1`,
		id,
	).Scan(&a.ID, &a.SessionID, &a.RunID, &a.Voice, &a.Speed, &a.SampleRate, &a.SampleCount, &a.ChunkCount, &a.SizeBytes, &a.WAV, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, run_id, voice, speed, sample_rate, sample_count, chunk_count, size_bytes, created_at
		   FROM narration_artifacts WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]Artifact, 0, limit)
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.RunID, &a.Voice, &a.Speed, &a.SampleRate, &a.SampleCount, &a.ChunkCount, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
