package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(t.TempDir(), "collab-test.db")
	logger := zerolog.New(os.Stderr)
	store, err := New(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id, userID, projectID string) *WorkspaceSession {
	now := time.Now().UnixMilli()
	return &WorkspaceSession{
		ID:           id,
		UserID:       userID,
		ProjectID:    projectID,
		SessionToken: fmt.Sprintf("%d_tok-%s", now, id),
		Status:       SessionActive,
		LastActivity: now,
		ExpiresAt:    now + int64(24*time.Hour/time.Millisecond),
		CreatedAt:    now,
	}
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	// Verify tables exist
	tables := []string{
		"workspace_sessions", "live_cursors", "collaboration_events",
		"file_locks", "meta",
	}

	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	// Verify indices exist
	var idxCount int
	err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_%'").Scan(&idxCount)
	require.NoError(t, err)
	assert.Greater(t, idxCount, 0, "indices should be created")
}

func TestSession_Lifecycle(t *testing.T) {
	store := newTestStore(t)

	ws := testSession("sess-1", "user-1", "proj-1")
	require.NoError(t, store.InsertSession(ws))

	// Read
	retrieved, err := store.GetSession("sess-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, ws.UserID, retrieved.UserID)
	assert.Equal(t, ws.ProjectID, retrieved.ProjectID)
	assert.Equal(t, SessionActive, retrieved.Status)

	// Missing -> (nil, nil)
	missing, err := store.GetSession("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Idle then touch brings it back to active with fresh last_activity
	require.NoError(t, store.UpdateSessionStatus("sess-1", SessionIdle))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.TouchSession("sess-1"))

	touched, err := store.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, touched.Status)
	assert.Greater(t, touched.LastActivity, ws.LastActivity)

	// Disconnect
	require.NoError(t, store.UpdateSessionStatus("sess-1", SessionDisconnected))
	ended, err := store.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionDisconnected, ended.Status)

	// Touching a missing session is an error
	assert.Error(t, store.TouchSession("nope"))
}

func TestActiveSessions_Window(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UnixMilli()

	fresh := testSession("sess-fresh", "user-1", "proj-1")
	require.NoError(t, store.InsertSession(fresh))

	stale := testSession("sess-stale", "user-2", "proj-1")
	stale.LastActivity = now - 60_000
	require.NoError(t, store.InsertSession(stale))

	disconnected := testSession("sess-gone", "user-3", "proj-1")
	disconnected.Status = SessionDisconnected
	require.NoError(t, store.InsertSession(disconnected))

	other := testSession("sess-other", "user-4", "proj-2")
	require.NoError(t, store.InsertSession(other))

	active, err := store.ActiveSessions("proj-1", now-30_000)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sess-fresh", active[0].ID)
}

func TestCursor_UpsertLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertSession(testSession("sess-1", "user-1", "proj-1")))

	c := &LiveCursor{
		ID:        "cur-1",
		SessionID: "sess-1",
		UserID:    "user-1",
		FilePath:  "main.go",
		Line:      10,
		Column:    4,
		Color:     "#ff0000",
	}
	require.NoError(t, store.UpsertCursor(c))

	// Second write for the same (session, file) overwrites, never duplicates.
	selStart := int64(100)
	selEnd := int64(140)
	c2 := &LiveCursor{
		ID:             "cur-2",
		SessionID:      "sess-1",
		UserID:         "user-1",
		FilePath:       "main.go",
		Line:           22,
		Column:         1,
		SelectionStart: &selStart,
		SelectionEnd:   &selEnd,
		Color:          "#ff0000",
	}
	require.NoError(t, store.UpsertCursor(c2))

	cursors, err := store.RecentCursors("proj-1", 0)
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.Equal(t, int64(22), cursors[0].Line)
	require.NotNil(t, cursors[0].SelectionStart)
	assert.Equal(t, int64(100), *cursors[0].SelectionStart)

	// A different file for the same session is a separate row.
	c3 := &LiveCursor{
		ID:        "cur-3",
		SessionID: "sess-1",
		UserID:    "user-1",
		FilePath:  "util.go",
		Line:      1,
	}
	require.NoError(t, store.UpsertCursor(c3))

	cursors, err = store.RecentCursors("proj-1", 0)
	require.NoError(t, err)
	assert.Len(t, cursors, 2)
}

func TestRecentCursors_ScopedToProject(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertSession(testSession("sess-a", "user-a", "proj-1")))
	require.NoError(t, store.InsertSession(testSession("sess-b", "user-b", "proj-2")))

	require.NoError(t, store.UpsertCursor(&LiveCursor{
		ID: "cur-a", SessionID: "sess-a", UserID: "user-a", FilePath: "a.go",
	}))
	require.NoError(t, store.UpsertCursor(&LiveCursor{
		ID: "cur-b", SessionID: "sess-b", UserID: "user-b", FilePath: "b.go",
	}))

	cursors, err := store.RecentCursors("proj-1", 0)
	require.NoError(t, err)
	require.Len(t, cursors, 1)
	assert.Equal(t, "user-a", cursors[0].UserID)
}

func TestEvents_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UnixMilli()

	for i := 0; i < 5; i++ {
		e := &CollaborationEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			ProjectID: "proj-1",
			EventType: EventEdit,
			ActorID:   "user-1",
			CreatedAt: base + int64(i*100),
		}
		require.NoError(t, store.InsertEvent(e))
	}

	events, err := store.RecentEvents("proj-1", 0, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-4", events[0].ID)
	assert.Equal(t, "evt-3", events[1].ID)
	assert.Equal(t, "evt-2", events[2].ID)

	// Look-back cutoff excludes older rows.
	events, err = store.RecentEvents("proj-1", base+300, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLock_ConditionalAcquire(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UnixMilli()

	first := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "x.ts",
		LockedBy:   "A",
		LockType:   LockWrite,
		AcquiredAt: now,
		ExpiresAt:  now + 60_000,
	}
	ok, err := store.AcquireLock(first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, first.ID, int64(0))

	// Second acquirer loses while the first lock is unexpired.
	second := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "x.ts",
		LockedBy:   "B",
		LockType:   LockWrite,
		AcquiredAt: now,
		ExpiresAt:  now + 60_000,
	}
	ok, err = store.AcquireLock(second)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different file is independent.
	other := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "y.ts",
		LockedBy:   "B",
		LockType:   LockWrite,
		AcquiredAt: now,
		ExpiresAt:  now + 60_000,
	}
	ok, err = store.AcquireLock(other)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ExpiredTreatedAsAbsent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UnixMilli()

	expired := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "x.ts",
		LockedBy:   "A",
		LockType:   LockWrite,
		AcquiredAt: now - 120_000,
		ExpiresAt:  now - 60_000,
	}
	ok, err := store.AcquireLock(expired)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired lock is invisible to readers.
	active, err := store.GetActiveLock("proj-1", "x.ts", now)
	require.NoError(t, err)
	assert.Nil(t, active)

	// And the file is acquirable again.
	fresh := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "x.ts",
		LockedBy:   "B",
		LockType:   LockExclusive,
		AcquiredAt: now,
		ExpiresAt:  now + 60_000,
	}
	ok, err = store.AcquireLock(fresh)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err = store.GetActiveLock("proj-1", "x.ts", now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "B", active.LockedBy)

	// Sweep targets only the expired row.
	stale, err := store.ExpiredLocks(now)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "A", stale[0].LockedBy)

	require.NoError(t, store.DeleteLock(stale[0].ID))
	stale, err = store.ExpiredLocks(now)
	require.NoError(t, err)
	assert.Len(t, stale, 0)
}

func TestLock_HeldByAndDelete(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UnixMilli()

	lock := &FileLock{
		ProjectID:  "proj-1",
		FilePath:   "x.ts",
		LockedBy:   "A",
		LockType:   LockWrite,
		AcquiredAt: now,
		ExpiresAt:  now + 60_000,
	}
	ok, err := store.AcquireLock(lock)
	require.NoError(t, err)
	require.True(t, ok)

	held, err := store.LocksHeldBy("proj-1", "x.ts", "A")
	require.NoError(t, err)
	require.Len(t, held, 1)

	none, err := store.LocksHeldBy("proj-1", "x.ts", "B")
	require.NoError(t, err)
	assert.Len(t, none, 0)

	require.NoError(t, store.DeleteLock(held[0].ID))
	active, err := store.GetActiveLock("proj-1", "x.ts", now)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRetention(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UnixMilli()

	require.NoError(t, store.InsertSession(testSession("sess-1", "user-1", "proj-1")))

	// Old cursor (2 hours ago)
	require.NoError(t, store.UpsertCursor(&LiveCursor{
		ID: "cur-old", SessionID: "sess-1", UserID: "user-1", FilePath: "old.go",
		UpdatedAt: now - 2*60*60*1000,
	}))

	// Old event (8 days ago)
	require.NoError(t, store.InsertEvent(&CollaborationEvent{
		ID: "evt-old", ProjectID: "proj-1", EventType: EventEdit, ActorID: "user-1",
		CreatedAt: now - 8*24*60*60*1000,
	}))

	// Long-disconnected session (2 days ago)
	gone := testSession("sess-gone", "user-2", "proj-1")
	gone.Status = SessionDisconnected
	gone.LastActivity = now - 2*24*60*60*1000
	require.NoError(t, store.InsertSession(gone))

	require.NoError(t, store.RunRetention(context.Background(), DefaultRetentionPolicy()))

	cursors, err := store.RecentCursors("proj-1", 0)
	require.NoError(t, err)
	assert.Len(t, cursors, 0)

	events, err := store.RecentEvents("proj-1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 0)

	deleted, err := store.GetSession("sess-gone")
	require.NoError(t, err)
	assert.Nil(t, deleted)

	// Connected session survives retention.
	kept, err := store.GetSession("sess-1")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestDBSize(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.InsertSession(testSession(
			fmt.Sprintf("sess-%d", i), fmt.Sprintf("user-%d", i), "proj-1",
		)))
	}

	size, err := store.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
