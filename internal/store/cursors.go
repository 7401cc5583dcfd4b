package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LiveCursor is the most recent caret/selection of one session in one file.
type LiveCursor struct {
	ID             string `json:"id"`
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	FilePath       string `json:"file_path"`
	Line           int64  `json:"line"`
	Column         int64  `json:"column"`
	SelectionStart *int64 `json:"selection_start,omitempty"`
	SelectionEnd   *int64 `json:"selection_end,omitempty"`
	Color          string `json:"color,omitempty"`
	UpdatedAt      int64  `json:"updated_at"`
}

// UpsertCursor writes a cursor position with last-write-wins semantics
// keyed by (session_id, file_path).
func (s *Store) UpsertCursor(c *LiveCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt == 0 {
		c.UpdatedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT INTO live_cursors (
		id, session_id, user_id, file_path,
		line_number, column_number, selection_start, selection_end,
		color, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id, file_path) DO UPDATE SET
		line_number = excluded.line_number,
		column_number = excluded.column_number,
		selection_start = excluded.selection_start,
		selection_end = excluded.selection_end,
		color = excluded.color,
		updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		c.ID, c.SessionID, c.UserID, c.FilePath,
		c.Line, c.Column, nullableInt(c.SelectionStart), nullableInt(c.SelectionEnd),
		c.Color, c.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}
	return nil
}

// RecentCursors returns cursors updated at or after the cutoff for sessions
// belonging to the given project. Cursors are routed to projects through
// their owning session.
func (s *Store) RecentCursors(projectID string, since int64) ([]*LiveCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT c.id, c.session_id, c.user_id, c.file_path,
	       c.line_number, c.column_number, c.selection_start, c.selection_end,
	       c.color, c.updated_at
	FROM live_cursors c
	JOIN workspace_sessions ws ON ws.id = c.session_id
	WHERE ws.project_id = ? AND c.updated_at >= ?
	ORDER BY c.updated_at DESC
	`

	rows, err := s.db.Query(query, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*LiveCursor
	for rows.Next() {
		c := &LiveCursor{}
		var selStart, selEnd sql.NullInt64

		err := rows.Scan(
			&c.ID, &c.SessionID, &c.UserID, &c.FilePath,
			&c.Line, &c.Column, &selStart, &selEnd,
			&c.Color, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}

		if selStart.Valid {
			c.SelectionStart = &selStart.Int64
		}
		if selEnd.Valid {
			c.SelectionEnd = &selEnd.Int64
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
