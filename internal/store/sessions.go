package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session status values.
const (
	SessionActive       = "active"
	SessionIdle         = "idle"
	SessionDisconnected = "disconnected"
)

// WorkspaceSession is one active participation of a user in a project.
type WorkspaceSession struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
	SessionToken string `json:"session_token,omitempty"`
	Status       string `json:"status"`
	CurrentFile  string `json:"current_file,omitempty"`
	CursorPos    string `json:"cursor_position,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
	LastActivity int64  `json:"last_activity"`
	ExpiresAt    int64  `json:"expires_at"`
	CreatedAt    int64  `json:"created_at"`
}

// InsertSession inserts a new workspace session row.
func (s *Store) InsertSession(ws *WorkspaceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if ws.CreatedAt == 0 {
		ws.CreatedAt = now
	}
	if ws.LastActivity == 0 {
		ws.LastActivity = now
	}

	query := `
	INSERT INTO workspace_sessions (
		id, user_id, project_id, session_token, status,
		current_file, cursor_position, metadata,
		last_activity, expires_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		ws.ID, ws.UserID, ws.ProjectID, ws.SessionToken, ws.Status,
		nullable(ws.CurrentFile), nullable(ws.CursorPos), nullable(ws.Metadata),
		ws.LastActivity, ws.ExpiresAt, ws.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a workspace session by ID.
func (s *Store) GetSession(id string) (*WorkspaceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, user_id, project_id, session_token, status,
	       current_file, cursor_position, metadata,
	       last_activity, expires_at, created_at
	FROM workspace_sessions WHERE id = ?
	`

	ws, err := scanSession(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return ws, nil
}

// UpdateSessionStatus sets the status of a session.
func (s *Store) UpdateSessionStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE workspace_sessions SET status = ? WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// TouchSession refreshes last_activity and forces the session back to active.
// Used by the heartbeat.
func (s *Store) TouchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE workspace_sessions SET last_activity = ?, status = ? WHERE id = ?`,
		time.Now().UnixMilli(), SessionActive, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// ActiveSessions returns active sessions for a project whose last_activity
// is at or after the given cutoff (unix milliseconds).
func (s *Store) ActiveSessions(projectID string, since int64) ([]*WorkspaceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, user_id, project_id, session_token, status,
	       current_file, cursor_position, metadata,
	       last_activity, expires_at, created_at
	FROM workspace_sessions
	WHERE project_id = ? AND status = ? AND last_activity >= ?
	ORDER BY last_activity DESC
	`

	rows, err := s.db.Query(query, projectID, SessionActive, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*WorkspaceSession
	for rows.Next() {
		ws, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*WorkspaceSession, error) {
	ws := &WorkspaceSession{}
	var currentFile, cursorPos, metadata sql.NullString

	err := row.Scan(
		&ws.ID, &ws.UserID, &ws.ProjectID, &ws.SessionToken, &ws.Status,
		&currentFile, &cursorPos, &metadata,
		&ws.LastActivity, &ws.ExpiresAt, &ws.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ws.CurrentFile = currentFile.String
	ws.CursorPos = cursorPos.String
	ws.Metadata = metadata.String
	return ws, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
