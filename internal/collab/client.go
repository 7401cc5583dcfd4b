// Package collab is the public face of the collaboration layer: one
// Client wires sessions, channels, the cursor/event publisher and file
// locks together behind the contract the UI consumes. Nothing here throws
// across the boundary — failures are logged and surface as nil/false/empty.
package collab

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/channel"
	"github.com/p-blackswan/collab-sync/internal/lock"
	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/session"
	"github.com/p-blackswan/collab-sync/internal/store"
)

// Store is the slice of the record store the publisher writes through.
type Store interface {
	UpsertCursor(*store.LiveCursor) error
	InsertEvent(*store.CollaborationEvent) error
}

// Client is the collaboration facade handed to callers.
type Client struct {
	sessions *session.Manager
	locks    *lock.Manager
	channels *channel.Registry
	store    Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewClient assembles a collaboration client from its parts. metrics may
// be nil.
func NewClient(
	st Store,
	sessions *session.Manager,
	locks *lock.Manager,
	channels *channel.Registry,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Client {
	return &Client{
		sessions: sessions,
		locks:    locks,
		channels: channels,
		store:    st,
		metrics:  m,
		logger:   logger.With().Str("component", "collab.client").Logger(),
	}
}

// CreateSession joins a project and logs a join event. Returns nil on
// store failure.
func (c *Client) CreateSession(projectID, userID string) *store.WorkspaceSession {
	ws := c.sessions.CreateSession(projectID, userID)
	if ws == nil {
		return nil
	}
	c.LogEvent(projectID, store.EventJoin, userID, EventOptions{SessionID: ws.ID})
	return ws
}

// EndSession leaves the current session and logs a leave event.
// Idempotent.
func (c *Client) EndSession() {
	id := c.sessions.CurrentSessionID()
	if id == "" {
		return
	}
	projectID, _ := c.sessions.ProjectFor(id)
	userID, _ := c.sessions.UserFor(id)
	c.sessions.EndSession()
	if projectID != "" {
		c.LogEvent(projectID, store.EventLeave, userID, EventOptions{SessionID: id})
	}
}

// GetSessionID returns the current session id, or "" when disconnected.
func (c *Client) GetSessionID() string {
	return c.sessions.CurrentSessionID()
}

// ValidateSession reports whether the token matches the live credential
// issued when the session was created.
func (c *Client) ValidateSession(ctx context.Context, sessionID, token string) bool {
	return c.sessions.Validate(ctx, sessionID, token)
}

// IsConnected reports whether a session is active.
func (c *Client) IsConnected() bool {
	return c.sessions.Connected()
}

// GetActiveUsers returns recently active sessions for a project.
func (c *Client) GetActiveUsers(projectID string) []*store.WorkspaceSession {
	return c.sessions.ActiveUsers(projectID)
}

// SubscribeToProject subscribes to a project's channel with the given
// callbacks. Subscribing twice updates the callbacks in place.
func (c *Client) SubscribeToProject(projectID string, cb channel.Callbacks) *channel.Channel {
	return c.channels.Subscribe(projectID, cb)
}

// UnsubscribeFromProject tears down a project's channel.
func (c *Client) UnsubscribeFromProject(projectID string) {
	c.channels.Unsubscribe(projectID)
}

// UnsubscribeAll tears down every channel.
func (c *Client) UnsubscribeAll() {
	c.channels.UnsubscribeAll()
}

// GetActiveChannels returns the project ids with a live channel.
func (c *Client) GetActiveChannels() []string {
	return c.channels.ActiveProjects()
}

// TrackPresence writes the caller's presence into a project's channel.
// With no channel subscribed for the project it warns and does nothing.
// PresenceFor returns a subscribed project's presence snapshot without
// touching the channel's callbacks. ok is false when there is no channel.
func (c *Client) PresenceFor(projectID string) (map[string]channel.Presence, bool) {
	ch, ok := c.channels.Get(projectID)
	if !ok {
		return nil, false
	}
	return ch.PresenceState(), true
}

func (c *Client) TrackPresence(projectID string, p channel.Presence) {
	ch, ok := c.channels.Get(projectID)
	if !ok {
		c.logger.Warn().Str("project_id", projectID).Msg("track presence with no active channel")
		return
	}
	ch.Track(p)
}

// AcquireFileLock takes a time-bounded lock on a file and logs a lock
// event on success.
func (c *Client) AcquireFileLock(projectID, filePath, userID, lockType string) bool {
	ok := c.locks.Acquire(projectID, filePath, userID, lockType)
	if ok {
		c.LogEvent(projectID, store.EventLock, userID, EventOptions{TargetFile: filePath})
	}
	return ok
}

// ReleaseFileLock releases a user's locks on a file and logs an unlock
// event.
func (c *Client) ReleaseFileLock(projectID, filePath, userID string) {
	c.locks.Release(projectID, filePath, userID)
	c.LogEvent(projectID, store.EventUnlock, userID, EventOptions{TargetFile: filePath})
}

// CheckFileLock reports whether a file is locked and by whom.
func (c *Client) CheckFileLock(projectID, filePath string) lock.Status {
	return c.locks.Check(projectID, filePath)
}

// CleanupExpiredLocks sweeps expired locks and returns how many were
// removed.
func (c *Client) CleanupExpiredLocks() int {
	return c.locks.CleanupExpired()
}

// Close tears down channels and sessions. Used on daemon shutdown.
func (c *Client) Close() {
	c.channels.UnsubscribeAll()
	c.sessions.Close()
}
