package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/types"
)

// CreateSession inserts a new session row
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, total_documents, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Name, session.TotalDocuments, string(session.Status),
		session.LastError, now, now)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or (nil, nil) if it does not exist
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, total_documents, status, stage_started_at, completed_at,
		       last_error, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions returns all sessions, newest first
func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// UpdateSessionStatus persists a stage transition. Terminal statuses stamp
// completed_at; a Failed transition records the error message, any other
// transition clears it.
func (s *SQLiteStorage) UpdateSessionStatus(ctx context.Context, id string, status types.PipelineStatus, errMsg string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid pipeline status: %s", status)
	}
	if status != types.StatusFailed {
		errMsg = ""
	}

	now := time.Now().UTC()
	var completedAt any
	if status.IsTerminal() {
		completedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, last_error = ?, stage_started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), errMsg, now, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// UpdateSessionStats upserts the stage's statistics row. One statement, so a
// crash can never leave a stage half-counted.
func (s *SQLiteStorage) UpdateSessionStats(ctx context.Context, id string, stats types.StageStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_stats (session_id, stage, data, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, stage) DO UPDATE SET data = excluded.data, completed_at = excluded.completed_at`,
		id, string(stats.Stage), string(stats.Data), stats.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update session stats: %w", err)
	}
	return nil
}

// GetSessionStats returns all persisted stage statistics for a session
func (s *SQLiteStorage) GetSessionStats(ctx context.Context, id string) ([]types.StageStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, data, completed_at FROM session_stats WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	defer rows.Close()

	var all []types.StageStats
	for rows.Next() {
		var stage, data string
		var completedAt time.Time
		if err := rows.Scan(&stage, &data, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session stats: %w", err)
		}
		all = append(all, types.StageStats{
			Stage:       types.Stage(stage),
			Data:        []byte(data),
			CompletedAt: completedAt,
		})
	}
	return all, rows.Err()
}

// ResetSession returns the session to NotStarted, clearing timestamps and the
// last error. Document rows are untouched: stages re-skip processed items.
func (s *SQLiteStorage) ResetSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, last_error = '', stage_started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(types.StatusNotStarted), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// scanner abstracts sql.Row / sql.Rows for the shared scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var session types.Session
	var status string
	var stageStartedAt, completedAt sql.NullTime

	err := row.Scan(&session.ID, &session.Name, &session.TotalDocuments, &status,
		&stageStartedAt, &completedAt, &session.LastError,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.Status = types.PipelineStatus(status)
	if stageStartedAt.Valid {
		t := stageStartedAt.Time
		session.StageStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	return &session, nil
}
