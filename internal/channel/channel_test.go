package channel

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/collab-sync/internal/store"
)

// fakeStore is an in-memory poll target that tracks query concurrency.
type fakeStore struct {
	mu       sync.Mutex
	cursors  []*store.LiveCursor
	events   []*store.CollaborationEvent
	sessions []*store.WorkspaceSession

	cursorErr  error
	eventErr   error
	sessionErr error

	queryDelay  time.Duration
	inFlight    int32
	maxInFlight int32
	queries     int32
}

func (f *fakeStore) enter() {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	if f.queryDelay > 0 {
		time.Sleep(f.queryDelay)
	}
	atomic.AddInt32(&f.queries, 1)
}

func (f *fakeStore) leave() { atomic.AddInt32(&f.inFlight, -1) }

func (f *fakeStore) RecentCursors(string, int64) ([]*store.LiveCursor, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors, f.cursorErr
}

func (f *fakeStore) RecentEvents(string, int64, int) ([]*store.CollaborationEvent, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.eventErr
}

func (f *fakeStore) ActiveSessions(string, int64) ([]*store.WorkspaceSession, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, f.sessionErr
}

func (f *fakeStore) setSessions(sessions []*store.WorkspaceSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = sessions
}

// collector gathers callback invocations in order.
type collector struct {
	mu       sync.Mutex
	order    []string
	cursors  []*store.LiveCursor
	events   []*store.CollaborationEvent
	presence [][]Presence
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnCursorUpdate: func(cur *store.LiveCursor) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.order = append(c.order, "cursor")
			c.cursors = append(c.cursors, cur)
		},
		OnEvent: func(e *store.CollaborationEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.order = append(c.order, "event")
			c.events = append(c.events, e)
		},
		OnPresenceChange: func(ps []Presence) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.order = append(c.order, "presence")
			c.presence = append(c.presence, ps)
		},
	}
}

func (c *collector) presenceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.presence)
}

func (c *collector) lastPresence() []Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.presence) == 0 {
		return nil
	}
	return c.presence[len(c.presence)-1]
}

func (c *collector) callbackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func testRegistry(t *testing.T, st Store, opts Options) *Registry {
	r := NewRegistry(st, opts, nil, zerolog.New(os.Stderr))
	t.Cleanup(r.UnsubscribeAll)
	return r
}

func sessionRow(userID string) *store.WorkspaceSession {
	return &store.WorkspaceSession{
		ID:           "sess-" + userID,
		UserID:       userID,
		ProjectID:    "proj-1",
		Status:       store.SessionActive,
		LastActivity: time.Now().UnixMilli(),
	}
}

func TestSubscribe_IdempotentPerProject(t *testing.T) {
	// A failing session query keeps the initial poll from firing its own
	// presence callback, so the ones observed below come from Track alone.
	fs := &fakeStore{sessionErr: errors.New("no sessions")}
	r := testRegistry(t, fs, Options{PollInterval: time.Hour})

	first := &collector{}
	second := &collector{}

	ch1 := r.Subscribe("proj-1", first.callbacks())
	ch2 := r.Subscribe("proj-1", second.callbacks())

	assert.Same(t, ch1, ch2)
	assert.Len(t, r.ActiveProjects(), 1)

	// The second subscribe swapped the callbacks in place.
	ch1.Track(Presence{UserID: "u1"})
	assert.Equal(t, 0, first.presenceCount())
	assert.Equal(t, 1, second.presenceCount())
}

func TestNoDuplicatePollers(t *testing.T) {
	fs := &fakeStore{queryDelay: 5 * time.Millisecond}
	r := testRegistry(t, fs, Options{PollInterval: time.Millisecond})

	c := &collector{}
	r.Subscribe("proj-1", c.callbacks())
	r.Subscribe("proj-1", c.callbacks())
	r.Subscribe("proj-1", c.callbacks())

	// Let several cycles run with deliberately slow queries.
	time.Sleep(150 * time.Millisecond)
	r.Unsubscribe("proj-1")

	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.maxInFlight),
		"poll queries for one project must never overlap")
	assert.Greater(t, atomic.LoadInt32(&fs.queries), int32(3), "poll loop should have run repeatedly")
}

func TestPoll_DeliversInOrder(t *testing.T) {
	selStart := int64(5)
	fs := &fakeStore{
		cursors: []*store.LiveCursor{
			{ID: "cur-1", SessionID: "sess-a", UserID: "a", FilePath: "x.go", Line: 3, SelectionStart: &selStart},
		},
		events: []*store.CollaborationEvent{
			{ID: "evt-2", ProjectID: "proj-1", EventType: store.EventEdit, ActorID: "a", CreatedAt: 200},
			{ID: "evt-1", ProjectID: "proj-1", EventType: store.EventJoin, ActorID: "a", CreatedAt: 100},
		},
		sessions: []*store.WorkspaceSession{sessionRow("a")},
	}
	r := testRegistry(t, fs, Options{PollInterval: time.Hour})

	c := &collector{}
	r.Subscribe("proj-1", c.callbacks())

	require.Eventually(t, func() bool { return c.presenceCount() >= 1 }, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Within one cycle: cursors, then events, then presence.
	require.Equal(t, []string{"cursor", "event", "event", "presence"}, c.order)

	// Events arrive newest first, as the store returned them.
	assert.Equal(t, "evt-2", c.events[0].ID)
	assert.Equal(t, "evt-1", c.events[1].ID)

	require.Len(t, c.presence[0], 1)
	assert.Equal(t, "a", c.presence[0][0].UserID)
	assert.Equal(t, PresenceOnline, c.presence[0][0].Status)
}

func TestPresenceSnapshot_AlwaysComplete(t *testing.T) {
	fs := &fakeStore{sessions: []*store.WorkspaceSession{sessionRow("a"), sessionRow("b")}}
	r := testRegistry(t, fs, Options{PollInterval: time.Millisecond})

	var torn atomic.Bool
	r.Subscribe("proj-1", Callbacks{
		OnPresenceChange: func(ps []Presence) {
			// Every invocation must carry the full set, never a map caught
			// mid-population.
			if len(ps) != 2 {
				torn.Store(true)
			}
		},
	})

	time.Sleep(50 * time.Millisecond)

	// Shrink the roster; snapshots must flip cleanly from 2 to 1.
	fs.setSessions([]*store.WorkspaceSession{sessionRow("a")})

	var tornAfter atomic.Bool
	ch, ok := r.Get("proj-1")
	require.True(t, ok)
	ch.setCallbacks(Callbacks{
		OnPresenceChange: func(ps []Presence) {
			if len(ps) != 1 && len(ps) != 2 {
				tornAfter.Store(true)
			}
		},
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, torn.Load())
	assert.False(t, tornAfter.Load())
}

func TestTrack_LocalEchoIsSynchronous(t *testing.T) {
	fs := &fakeStore{}
	r := testRegistry(t, fs, Options{PollInterval: time.Hour})

	c := &collector{}
	ch := r.Subscribe("proj-1", c.callbacks())

	// Wait out the initial poll so the only remaining activity is ours.
	require.Eventually(t, func() bool { return c.presenceCount() >= 1 }, time.Second, 5*time.Millisecond)
	before := c.presenceCount()

	ch.Track(Presence{UserID: "me", Username: "Me", Status: PresenceBusy})

	// The callback fired before Track returned.
	require.Equal(t, before+1, c.presenceCount())
	last := c.lastPresence()
	require.Len(t, last, 1)
	assert.Equal(t, "me", last[0].UserID)
	assert.Equal(t, PresenceBusy, last[0].Status)

	state := ch.PresenceState()
	require.Contains(t, state, "me")

	// PresenceState hands out a copy.
	delete(state, "me")
	assert.Contains(t, ch.PresenceState(), "me")
}

func TestTrack_DefaultsToOnline(t *testing.T) {
	fs := &fakeStore{sessionErr: errors.New("no sessions")}
	r := testRegistry(t, fs, Options{PollInterval: time.Hour})
	ch := r.Subscribe("proj-1", Callbacks{})

	ch.Track(Presence{UserID: "me"})
	assert.Equal(t, PresenceOnline, ch.PresenceState()["me"].Status)
}

func TestUnsubscribe_StopsCallbacks(t *testing.T) {
	fs := &fakeStore{sessions: []*store.WorkspaceSession{sessionRow("a")}}
	r := testRegistry(t, fs, Options{PollInterval: time.Millisecond})

	c := &collector{}
	r.Subscribe("proj-1", c.callbacks())
	require.Eventually(t, func() bool { return c.presenceCount() >= 2 }, time.Second, 5*time.Millisecond)

	r.Unsubscribe("proj-1")
	assert.Empty(t, r.ActiveProjects())

	// Allow any in-flight poll to drain, then the count must freeze.
	time.Sleep(20 * time.Millisecond)
	settled := c.callbackCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, c.callbackCount(), "no callbacks may fire beyond the in-flight poll")

	// Unsubscribing again is a no-op.
	r.Unsubscribe("proj-1")
}

func TestCycle_ContinuesPastQueryFailure(t *testing.T) {
	fs := &fakeStore{
		cursorErr: errors.New("cursor query down"),
		events: []*store.CollaborationEvent{
			{ID: "evt-1", ProjectID: "proj-1", EventType: store.EventEdit, ActorID: "a"},
		},
		sessions: []*store.WorkspaceSession{sessionRow("a")},
	}
	r := testRegistry(t, fs, Options{PollInterval: 5 * time.Millisecond})

	c := &collector{}
	r.Subscribe("proj-1", c.callbacks())

	// Events and presence still flow, and the loop keeps rescheduling.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.events) >= 2 && len(c.presence) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_SeparateProjects(t *testing.T) {
	fs := &fakeStore{}
	r := testRegistry(t, fs, Options{PollInterval: time.Hour})

	ch1 := r.Subscribe("proj-1", Callbacks{})
	ch2 := r.Subscribe("proj-2", Callbacks{})
	assert.NotSame(t, ch1, ch2)
	assert.ElementsMatch(t, []string{"proj-1", "proj-2"}, r.ActiveProjects())

	got, ok := r.Get("proj-1")
	require.True(t, ok)
	assert.Same(t, ch1, got)

	_, ok = r.Get("proj-3")
	assert.False(t, ok)

	r.UnsubscribeAll()
	assert.Empty(t, r.ActiveProjects())
}

func TestPresenceFromSession_Metadata(t *testing.T) {
	ws := sessionRow("a")
	ws.Metadata = `{"username":"Alice"}`
	ws.CurrentFile = "main.go"

	p := presenceFromSession(ws)
	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, "main.go", p.CurrentFile)
	assert.Equal(t, PresenceOnline, p.Status)

	// Malformed metadata is ignored, not fatal.
	ws.Metadata = `{not json`
	p = presenceFromSession(ws)
	assert.Empty(t, p.Username)
}
