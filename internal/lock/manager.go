// Package lock arbitrates advisory, time-bounded file locks. Locks
// coordinate intent only — a client that ignores them is not stopped by
// anything in this layer.
package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/store"
)

// Store is the slice of the record store the lock manager needs.
type Store interface {
	AcquireLock(*store.FileLock) (bool, error)
	GetActiveLock(projectID, filePath string, now int64) (*store.FileLock, error)
	LocksHeldBy(projectID, filePath, userID string) ([]*store.FileLock, error)
	ExpiredLocks(now int64) ([]*store.FileLock, error)
	DeleteLock(id int64) error
}

// Status is the outcome of a lock inspection.
type Status struct {
	Locked    bool   `json:"locked"`
	LockedBy  string `json:"locked_by,omitempty"`
	LockType  string `json:"lock_type,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Manager acquires, inspects, releases and sweeps file locks.
type Manager struct {
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	ttl     time.Duration
}

// NewManager creates a lock manager. metrics may be nil.
func NewManager(st Store, m *metrics.Metrics, ttl time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   st,
		metrics: m,
		logger:  logger.With().Str("component", "lock.manager").Logger(),
		ttl:     ttl,
	}
}

// Acquire attempts to take a lock on a file for the TTL. The underlying
// insert is conditional on no unexpired lock existing for the same file,
// so exactly one of two concurrent acquirers wins. Returns false on
// contention or store failure.
func (m *Manager) Acquire(projectID, filePath, userID, lockType string) bool {
	if lockType == "" {
		lockType = store.LockWrite
	}
	now := time.Now()

	l := &store.FileLock{
		ProjectID:  projectID,
		FilePath:   filePath,
		LockedBy:   userID,
		LockType:   lockType,
		AcquiredAt: now.UnixMilli(),
		ExpiresAt:  now.Add(m.ttl).UnixMilli(),
	}

	ok, err := m.store.AcquireLock(l)
	if err != nil {
		m.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("file_path", filePath).
			Msg("failed to acquire lock")
		m.recordLock("acquire", "error")
		m.recordStoreError()
		return false
	}

	if !ok {
		m.recordLock("acquire", "denied")
		return false
	}

	m.recordLock("acquire", "granted")
	m.logger.Debug().
		Str("project_id", projectID).
		Str("file_path", filePath).
		Str("locked_by", userID).
		Str("lock_type", lockType).
		Msg("lock acquired")
	return true
}

// Check reports whether a file is currently locked. Expired locks count
// as absent, as does a store failure.
func (m *Manager) Check(projectID, filePath string) Status {
	l, err := m.store.GetActiveLock(projectID, filePath, time.Now().UnixMilli())
	if err != nil {
		m.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("file_path", filePath).
			Msg("failed to check lock")
		m.recordStoreError()
		return Status{}
	}
	if l == nil {
		return Status{}
	}
	return Status{
		Locked:    true,
		LockedBy:  l.LockedBy,
		LockType:  l.LockType,
		ExpiresAt: l.ExpiresAt,
	}
}

// Release removes all locks a user holds on a file. The store's delete
// works on single row ids, so this is a two-step select-then-delete.
func (m *Manager) Release(projectID, filePath, userID string) {
	held, err := m.store.LocksHeldBy(projectID, filePath, userID)
	if err != nil {
		m.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("file_path", filePath).
			Msg("failed to list locks for release")
		m.recordLock("release", "error")
		m.recordStoreError()
		return
	}

	for _, l := range held {
		if err := m.store.DeleteLock(l.ID); err != nil {
			m.logger.Warn().Err(err).Int64("lock_id", l.ID).Msg("failed to delete lock")
			m.recordStoreError()
		}
	}

	if len(held) > 0 {
		m.recordLock("release", "ok")
		m.logger.Debug().
			Str("project_id", projectID).
			Str("file_path", filePath).
			Int("count", len(held)).
			Msg("locks released")
	}
}

// CleanupExpired deletes every lock whose expiry is in the past and
// returns how many were removed. A per-row failure is logged and the
// sweep keeps going.
func (m *Manager) CleanupExpired() int {
	expired, err := m.store.ExpiredLocks(time.Now().UnixMilli())
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list expired locks")
		m.recordStoreError()
		return 0
	}

	removed := 0
	for _, l := range expired {
		if err := m.store.DeleteLock(l.ID); err != nil {
			m.logger.Warn().Err(err).Int64("lock_id", l.ID).Msg("failed to sweep expired lock")
			m.recordStoreError()
			continue
		}
		removed++
	}

	if removed > 0 {
		m.recordLock("sweep", "ok")
		m.logger.Info().Int("removed", removed).Msg("expired locks swept")
	}
	return removed
}

// StartSweeper runs CleanupExpired on the given interval until ctx is
// cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

func (m *Manager) recordLock(op, result string) {
	if m.metrics != nil {
		m.metrics.RecordLock(op, result)
	}
}

func (m *Manager) recordStoreError() {
	if m.metrics != nil {
		m.metrics.RecordStoreError("file_locks")
	}
}
