// Package channel fakes a push subscription over a request/response record
// store: one logical channel per project, driven by a self-rescheduling
// poll loop and a local presence cache.
package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/store"
)

// Presence status values.
const (
	PresenceOnline = "online"
	PresenceAway   = "away"
	PresenceBusy   = "busy"
)

// Presence is an ephemeral view of one user: who they are, where they are,
// and whether they are around.
type Presence struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	CurrentFile string `json:"current_file,omitempty"`
	CursorPos   string `json:"cursor_position,omitempty"`
	Status      string `json:"status"`
}

// Callbacks are the subscriber hooks a channel drives. Any hook may be nil.
// Delivery near look-back window boundaries can repeat across polls, so
// hooks must tolerate duplicates.
type Callbacks struct {
	OnCursorUpdate   func(*store.LiveCursor)
	OnEvent          func(*store.CollaborationEvent)
	OnPresenceChange func([]Presence)
}

// Channel is one project's logical subscription: a poll loop plus a local
// presence map. Create channels through a Registry.
type Channel struct {
	projectID string
	reg       *Registry
	logger    zerolog.Logger

	mu        sync.Mutex
	callbacks Callbacks
	presence  map[string]Presence
	inFlight  bool
	timer     *time.Timer
	started   bool
}

func newChannel(projectID string, reg *Registry, cb Callbacks, logger zerolog.Logger) *Channel {
	return &Channel{
		projectID: projectID,
		reg:       reg,
		logger:    logger.With().Str("component", "channel").Str("project_id", projectID).Logger(),
		callbacks: cb,
		presence:  make(map[string]Presence),
	}
}

// ProjectID returns the project this channel serves.
func (c *Channel) ProjectID() string {
	return c.projectID
}

// Track writes the caller's presence into the local map and immediately
// fires OnPresenceChange with the full snapshot. The remote copies of this
// presence arrive on other clients' next polls.
func (c *Channel) Track(p Presence) {
	if p.Status == "" {
		p.Status = PresenceOnline
	}

	c.mu.Lock()
	c.presence[p.UserID] = p
	snapshot := c.snapshotLocked()
	cb := c.callbacks.OnPresenceChange
	c.mu.Unlock()

	if cb != nil {
		cb(snapshot)
		c.reg.recordCallback("presence")
	}
}

// PresenceState returns a copy of the local presence map keyed by user id.
func (c *Channel) PresenceState() map[string]Presence {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := make(map[string]Presence, len(c.presence))
	for id, p := range c.presence {
		state[id] = p
	}
	return state
}

// Subscribe starts the poll loop. Safe to call more than once.
func (c *Channel) Subscribe() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.schedule(0)
}

// Unsubscribe stops the poll timer. The registry removes the channel from
// its map before calling this, so a poll already in flight sees the
// removed guard and neither reschedules nor fires further callbacks.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// EchoCursor synchronously delivers a locally written cursor to the
// subscriber, ahead of the poll-driven remote copy.
func (c *Channel) EchoCursor(cur *store.LiveCursor) {
	c.mu.Lock()
	cb := c.callbacks.OnCursorUpdate
	c.mu.Unlock()

	if cb != nil {
		cb(cur)
		c.reg.recordCallback("cursor")
	}
}

// EchoEvent synchronously delivers a locally logged event to the
// subscriber, ahead of the poll-driven remote copy.
func (c *Channel) EchoEvent(e *store.CollaborationEvent) {
	c.mu.Lock()
	cb := c.callbacks.OnEvent
	c.mu.Unlock()

	if cb != nil {
		cb(e)
		c.reg.recordCallback("event")
	}
}

// setCallbacks swaps the subscriber hooks in place. Used by the registry
// when the same project is subscribed twice.
func (c *Channel) setCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// replacePresence swaps in a freshly built map and returns the values to
// hand to the presence callback. The previous map is never mutated, so a
// callback holding the old snapshot never sees a torn update.
func (c *Channel) replacePresence(fresh map[string]Presence) []Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = fresh
	return c.snapshotLocked()
}

func (c *Channel) snapshotLocked() []Presence {
	values := make([]Presence, 0, len(c.presence))
	for _, p := range c.presence {
		values = append(values, p)
	}
	return values
}

// presenceFromSession derives a remote user's presence from their active
// session row. Username comes from session metadata when present.
func presenceFromSession(ws *store.WorkspaceSession) Presence {
	p := Presence{
		UserID:      ws.UserID,
		CurrentFile: ws.CurrentFile,
		CursorPos:   ws.CursorPos,
		Status:      PresenceOnline,
	}
	if ws.Metadata != "" {
		var meta struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal([]byte(ws.Metadata), &meta); err == nil {
			p.Username = meta.Username
		}
	}
	return p
}
