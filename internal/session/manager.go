// Package session manages a client's participation in a project: session
// rows in the record store, a periodic activity heartbeat, and the
// session→project index used to route cursor and event updates.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/store"
	"github.com/p-blackswan/collab-sync/pkg/sessiontoken"
)

// Store is the slice of the record store the session manager needs.
type Store interface {
	InsertSession(*store.WorkspaceSession) error
	UpdateSessionStatus(id, status string) error
	TouchSession(id string) error
	ActiveSessions(projectID string, since int64) ([]*store.WorkspaceSession, error)
}

// Manager owns session lifecycles and the session→project index.
// It is safe for concurrent use.
type Manager struct {
	store   Store
	tokens  sessiontoken.Cache
	metrics *metrics.Metrics
	logger  zerolog.Logger

	heartbeat    time.Duration
	activeWindow time.Duration
	sessionTTL   time.Duration

	mu       sync.Mutex
	current  string
	projects map[string]string
	users    map[string]string
	cancels  map[string]context.CancelFunc
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(st Store, m *metrics.Metrics, heartbeat, activeWindow time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		store:        st,
		tokens:       sessiontoken.NewMemoryCache(),
		metrics:      m,
		logger:       logger.With().Str("component", "session.manager").Logger(),
		heartbeat:    heartbeat,
		activeWindow: activeWindow,
		sessionTTL:   24 * time.Hour,
		projects:     make(map[string]string),
		users:        make(map[string]string),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// CreateSession inserts an active workspace session, records the
// session→project mapping and starts the activity heartbeat. Returns nil
// on store failure (logged, non-fatal).
func (m *Manager) CreateSession(projectID, userID string) *store.WorkspaceSession {
	now := time.Now()
	ws := &store.WorkspaceSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		ProjectID:    projectID,
		SessionToken: newSessionToken(now),
		Status:       store.SessionActive,
		LastActivity: now.UnixMilli(),
		ExpiresAt:    now.Add(m.sessionTTL).UnixMilli(),
		CreatedAt:    now.UnixMilli(),
	}

	if err := m.store.InsertSession(ws); err != nil {
		m.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("user_id", userID).
			Msg("failed to create session")
		if m.metrics != nil {
			m.metrics.RecordStoreError("workspace_sessions")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := m.tokens.Put(ctx, ws.ID, ws.SessionToken, m.sessionTTL); err != nil {
		m.logger.Warn().Err(err).Str("session_id", ws.ID).Msg("failed to cache session token")
	}

	m.mu.Lock()
	m.current = ws.ID
	m.projects[ws.ID] = projectID
	m.users[ws.ID] = userID
	m.cancels[ws.ID] = cancel
	m.mu.Unlock()

	go m.runHeartbeat(ctx, ws.ID)

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}

	m.logger.Info().
		Str("session_id", ws.ID).
		Str("project_id", projectID).
		Str("user_id", userID).
		Msg("session created")
	return ws
}

// EndSession marks the current session disconnected, drops the
// session→project mapping and stops the heartbeat. Idempotent — a no-op
// when there is no active session.
func (m *Manager) EndSession() {
	m.mu.Lock()
	id := m.current
	m.current = ""
	m.mu.Unlock()

	if id == "" {
		return
	}
	m.EndSessionByID(id)
}

// EndSessionByID ends one specific session. Idempotent.
func (m *Manager) EndSessionByID(id string) {
	m.mu.Lock()
	cancel, tracked := m.cancels[id]
	delete(m.cancels, id)
	delete(m.projects, id)
	delete(m.users, id)
	if m.current == id {
		m.current = ""
	}
	m.mu.Unlock()

	if !tracked {
		return
	}
	cancel()

	if err := m.tokens.Revoke(context.Background(), id); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to revoke session token")
	}

	if err := m.store.UpdateSessionStatus(id, store.SessionDisconnected); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to mark session disconnected")
		if m.metrics != nil {
			m.metrics.RecordStoreError("workspace_sessions")
		}
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	m.logger.Info().Str("session_id", id).Msg("session ended")
}

// ActiveUsers returns sessions with status active and last_activity within
// the active-user window. Never nil — store failure yields an empty slice.
func (m *Manager) ActiveUsers(projectID string) []*store.WorkspaceSession {
	since := time.Now().Add(-m.activeWindow).UnixMilli()
	sessions, err := m.store.ActiveSessions(projectID, since)
	if err != nil {
		m.logger.Error().Err(err).Str("project_id", projectID).Msg("failed to list active users")
		if m.metrics != nil {
			m.metrics.RecordStoreError("workspace_sessions")
		}
		return []*store.WorkspaceSession{}
	}
	if sessions == nil {
		sessions = []*store.WorkspaceSession{}
	}
	return sessions
}

// ProjectFor resolves the project a session belongs to via the in-memory
// index. A missing mapping is not an error — callers degrade to
// poll-only delivery.
func (m *Manager) ProjectFor(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	projectID, ok := m.projects[sessionID]
	return projectID, ok
}

// UserFor resolves the user a session belongs to via the in-memory index.
func (m *Manager) UserFor(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.users[sessionID]
	return userID, ok
}

// CurrentSessionID returns the id of the most recently created session,
// or "" when none is active.
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Connected reports whether a session is currently active.
func (m *Manager) Connected() bool {
	return m.CurrentSessionID() != ""
}

// Validate reports whether the given token matches the live credential for
// a session. Ended and expired sessions never validate.
func (m *Manager) Validate(ctx context.Context, sessionID, token string) bool {
	cred, err := m.tokens.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return cred.Token == token
}

// Close ends every tracked session. Used on daemon shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.EndSessionByID(id)
	}
}

// runHeartbeat refreshes last_activity every heartbeat interval until the
// session is ended.
func (m *Manager) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.TouchSession(sessionID); err != nil {
				m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("heartbeat failed")
				if m.metrics != nil {
					m.metrics.RecordStoreError("workspace_sessions")
				}
			}
		}
	}
}

// newSessionToken builds an opaque time-seeded random token.
func newSessionToken(now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixNano(), uuid.NewString())
}
