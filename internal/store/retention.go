package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy controls how long derived collaboration data is kept.
// Sessions are never deleted while connected; only rows long past their
// useful window are pruned. A zero duration disables that rule.
type RetentionPolicy struct {
	CursorAge  time.Duration
	EventAge   time.Duration
	SessionAge time.Duration
}

// DefaultRetentionPolicy returns the standard retention windows.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		CursorAge:  time.Hour,
		EventAge:   7 * 24 * time.Hour,
		SessionAge: 24 * time.Hour,
	}
}

// RunRetention cleans up old data according to the retention policy.
func (s *Store) RunRetention(ctx context.Context, p RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if p.CursorAge > 0 {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM live_cursors WHERE updated_at < ?",
			now-p.CursorAge.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to delete old cursors: %w", err)
		}
	}

	if p.EventAge > 0 {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM collaboration_events WHERE created_at < ?",
			now-p.EventAge.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to delete old events: %w", err)
		}
	}

	// Disconnected sessions with no recent activity
	if p.SessionAge > 0 {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM workspace_sessions WHERE status = ? AND last_activity < ?",
			SessionDisconnected, now-p.SessionAge.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to delete old sessions: %w", err)
		}
	}

	return nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
