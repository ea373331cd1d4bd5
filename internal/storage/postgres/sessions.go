package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quarrylabs/quarry/internal/types"
)

// CreateSession inserts a new session row
func (s *PostgresStorage) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, name, total_documents, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		session.ID, session.Name, session.TotalDocuments, string(session.Status),
		session.LastError, now)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or (nil, nil) if it does not exist
func (s *PostgresStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, total_documents, status, stage_started_at, completed_at,
		       last_error, created_at, updated_at
		FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions returns all sessions, newest first
func (s *PostgresStorage) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, total_documents, status, stage_started_at, completed_at,
		       last_error, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus persists a stage transition (see sqlite backend for the
// terminal-status and error-message semantics, which are identical)
func (s *PostgresStorage) UpdateSessionStatus(ctx context.Context, id string, status types.PipelineStatus, errMsg string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid pipeline status: %s", status)
	}
	if status != types.StatusFailed {
		errMsg = ""
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, last_error = $2, stage_started_at = $3, completed_at = $4, updated_at = $3
		WHERE id = $5`,
		string(status), errMsg, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// UpdateSessionStats upserts the stage's statistics row
func (s *PostgresStorage) UpdateSessionStats(ctx context.Context, id string, stats types.StageStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_stats (session_id, stage, data, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, stage) DO UPDATE SET data = EXCLUDED.data, completed_at = EXCLUDED.completed_at`,
		id, string(stats.Stage), []byte(stats.Data), stats.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update session stats: %w", err)
	}
	return nil
}

// GetSessionStats returns all persisted stage statistics for a session
func (s *PostgresStorage) GetSessionStats(ctx context.Context, id string) ([]types.StageStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, data, completed_at FROM session_stats WHERE session_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	defer rows.Close()

	var all []types.StageStats
	for rows.Next() {
		var stage string
		var data []byte
		var completedAt time.Time
		if err := rows.Scan(&stage, &data, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session stats: %w", err)
		}
		all = append(all, types.StageStats{
			Stage:       types.Stage(stage),
			Data:        data,
			CompletedAt: completedAt,
		})
	}
	return all, rows.Err()
}

// ResetSession returns the session to NotStarted without touching documents
func (s *PostgresStorage) ResetSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, last_error = '', stage_started_at = NULL, completed_at = NULL, updated_at = $2
		WHERE id = $3`,
		string(types.StatusNotStarted), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var session types.Session
	var status string
	var stageStartedAt, completedAt *time.Time

	err := row.Scan(&session.ID, &session.Name, &session.TotalDocuments, &status,
		&stageStartedAt, &completedAt, &session.LastError,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.Status = types.PipelineStatus(status)
	session.StageStartedAt = stageStartedAt
	session.CompletedAt = completedAt
	return &session, nil
}
