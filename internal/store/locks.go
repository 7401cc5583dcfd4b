package store

import (
	"database/sql"
	"fmt"
)

// Lock types.
const (
	LockRead      = "read"
	LockWrite     = "write"
	LockExclusive = "exclusive"
)

// FileLock is an advisory claim on one file. A lock is held only while
// now < ExpiresAt; expired rows are treated as absent by readers.
type FileLock struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	FilePath   string `json:"file_path"`
	LockedBy   string `json:"locked_by"`
	LockType   string `json:"lock_type"`
	AcquiredAt int64  `json:"acquired_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// AcquireLock inserts a lock row only if no unexpired lock exists for the
// same (project, file). Returns true if the lock was acquired. The
// conditional insert closes the race between two concurrent acquirers.
func (s *Store) AcquireLock(l *FileLock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO file_locks (project_id, file_path, locked_by, lock_type, acquired_at, expires_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM file_locks
		WHERE project_id = ? AND file_path = ? AND expires_at > ?
	)
	`

	result, err := s.db.Exec(query,
		l.ProjectID, l.FilePath, l.LockedBy, l.LockType, l.AcquiredAt, l.ExpiresAt,
		l.ProjectID, l.FilePath, l.AcquiredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err == nil {
		l.ID = id
	}
	return true, nil
}

// GetActiveLock returns the unexpired lock on a file, or nil if there is
// none (expired locks count as absent).
func (s *Store) GetActiveLock(projectID, filePath string, now int64) (*FileLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, project_id, file_path, locked_by, lock_type, acquired_at, expires_at
	FROM file_locks
	WHERE project_id = ? AND file_path = ? AND expires_at >= ?
	ORDER BY expires_at DESC
	LIMIT 1
	`

	l := &FileLock{}
	err := s.db.QueryRow(query, projectID, filePath, now).Scan(
		&l.ID, &l.ProjectID, &l.FilePath, &l.LockedBy, &l.LockType,
		&l.AcquiredAt, &l.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active lock: %w", err)
	}
	return l, nil
}

// LocksHeldBy returns all lock rows on a file held by a user, expired or not.
// Release works row-by-row on ids, so callers need the full set.
func (s *Store) LocksHeldBy(projectID, filePath, userID string) ([]*FileLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, project_id, file_path, locked_by, lock_type, acquired_at, expires_at
	FROM file_locks
	WHERE project_id = ? AND file_path = ? AND locked_by = ?
	`

	rows, err := s.db.Query(query, projectID, filePath, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list held locks: %w", err)
	}
	defer rows.Close()

	return collectLocks(rows)
}

// ExpiredLocks returns all lock rows whose expires_at is in the past.
func (s *Store) ExpiredLocks(now int64) ([]*FileLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, project_id, file_path, locked_by, lock_type, acquired_at, expires_at
	FROM file_locks
	WHERE expires_at < ?
	`

	rows, err := s.db.Query(query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired locks: %w", err)
	}
	defer rows.Close()

	return collectLocks(rows)
}

// DeleteLock removes one lock row by id.
func (s *Store) DeleteLock(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM file_locks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

func collectLocks(rows *sql.Rows) ([]*FileLock, error) {
	var locks []*FileLock
	for rows.Next() {
		l := &FileLock{}
		err := rows.Scan(
			&l.ID, &l.ProjectID, &l.FilePath, &l.LockedBy, &l.LockType,
			&l.AcquiredAt, &l.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}
