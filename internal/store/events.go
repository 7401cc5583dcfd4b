package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Event types recorded by the collaboration layer.
const (
	EventJoin       = "join"
	EventLeave      = "leave"
	EventEdit       = "edit"
	EventComment    = "comment"
	EventLock       = "lock"
	EventUnlock     = "unlock"
	EventCursorMove = "cursor_move"
	EventFileOpen   = "file_open"
	EventFileClose  = "file_close"
)

// CollaborationEvent is an immutable fact: someone joined, left, edited,
// locked, etc. Append-only; written once, never mutated.
type CollaborationEvent struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	SessionID  string `json:"session_id,omitempty"`
	EventType  string `json:"event_type"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	TargetFile string `json:"target_file,omitempty"`
	EventData  string `json:"event_data,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// InsertEvent appends a collaboration event.
func (s *Store) InsertEvent(e *CollaborationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT INTO collaboration_events (
		id, project_id, session_id, event_type, actor_id,
		actor_name, target_file, event_data, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		e.ID, e.ProjectID, nullable(e.SessionID), e.EventType, e.ActorID,
		nullable(e.ActorName), nullable(e.TargetFile), nullable(e.EventData),
		e.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events for a project created at or after
// the cutoff, newest first.
func (s *Store) RecentEvents(projectID string, since int64, limit int) ([]*CollaborationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, project_id, session_id, event_type, actor_id,
	       actor_name, target_file, event_data, created_at
	FROM collaboration_events
	WHERE project_id = ? AND created_at >= ?
	ORDER BY created_at DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, projectID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer rows.Close()

	var events []*CollaborationEvent
	for rows.Next() {
		e := &CollaborationEvent{}
		var sessionID, actorName, targetFile, eventData sql.NullString

		err := rows.Scan(
			&e.ID, &e.ProjectID, &sessionID, &e.EventType, &e.ActorID,
			&actorName, &targetFile, &eventData, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		e.SessionID = sessionID.String
		e.ActorName = actorName.String
		e.TargetFile = targetFile.String
		e.EventData = eventData.String
		events = append(events, e)
	}
	return events, rows.Err()
}
