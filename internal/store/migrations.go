package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspace_sessions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		project_id      TEXT NOT NULL,
		session_token   TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'active',
		current_file    TEXT,
		cursor_position TEXT,
		metadata        TEXT,
		last_activity   INTEGER NOT NULL,
		expires_at      INTEGER NOT NULL,
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON workspace_sessions(project_id, status, last_activity);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON workspace_sessions(user_id);

	CREATE TABLE IF NOT EXISTS live_cursors (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		file_path       TEXT NOT NULL,
		line_number     INTEGER NOT NULL DEFAULT 0,
		column_number   INTEGER NOT NULL DEFAULT 0,
		selection_start INTEGER,
		selection_end   INTEGER,
		color           TEXT NOT NULL DEFAULT '',
		updated_at      INTEGER NOT NULL,
		UNIQUE (session_id, file_path)
	);

	CREATE INDEX IF NOT EXISTS idx_cursors_updated ON live_cursors(updated_at);

	CREATE TABLE IF NOT EXISTS collaboration_events (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		session_id  TEXT,
		event_type  TEXT NOT NULL,
		actor_id    TEXT NOT NULL,
		actor_name  TEXT,
		target_file TEXT,
		event_data  TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_project ON collaboration_events(project_id, created_at);

	CREATE TABLE IF NOT EXISTS file_locks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id  TEXT NOT NULL,
		file_path   TEXT NOT NULL,
		locked_by   TEXT NOT NULL,
		lock_type   TEXT NOT NULL DEFAULT 'write',
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locks_file ON file_locks(project_id, file_path, expires_at);
	CREATE INDEX IF NOT EXISTS idx_locks_expiry ON file_locks(expires_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}
