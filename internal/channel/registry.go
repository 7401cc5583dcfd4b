package channel

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/store"
)

// Store is the slice of the record store the polling engine needs.
type Store interface {
	RecentCursors(projectID string, since int64) ([]*store.LiveCursor, error)
	RecentEvents(projectID string, since int64, limit int) ([]*store.CollaborationEvent, error)
	ActiveSessions(projectID string, since int64) ([]*store.WorkspaceSession, error)
}

// Options tunes the polling engine.
type Options struct {
	// PollInterval is the delay between the end of one poll cycle and the
	// start of the next. Default: 2s.
	PollInterval time.Duration

	// Lookback is how far back a poll considers cursors and events recent.
	// Default: 5s.
	Lookback time.Duration

	// PresenceWindow is how recent a session's last_activity must be to
	// count as present. Default: 30s.
	PresenceWindow time.Duration

	// EventLimit caps how many events one poll delivers. Default: 10.
	EventLimit int
}

// DefaultOptions returns the standard polling cadence.
func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		Lookback:       5 * time.Second,
		PresenceWindow: 30 * time.Second,
		EventLimit:     10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Lookback <= 0 {
		o.Lookback = d.Lookback
	}
	if o.PresenceWindow <= 0 {
		o.PresenceWindow = d.PresenceWindow
	}
	if o.EventLimit <= 0 {
		o.EventLimit = d.EventLimit
	}
	return o
}

// Registry holds one channel per project. It is safe for concurrent use.
type Registry struct {
	store   Store
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty channel registry. metrics may be nil.
func NewRegistry(st Store, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    st,
		opts:     opts.withDefaults(),
		metrics:  m,
		logger:   logger.With().Str("component", "channel.registry").Logger(),
		channels: make(map[string]*Channel),
	}
}

// Subscribe returns the channel for a project, creating and starting it on
// first use. Subscribing twice to the same project updates the existing
// channel's callbacks in place — there is never a second poll loop.
func (r *Registry) Subscribe(projectID string, cb Callbacks) *Channel {
	r.mu.Lock()
	if ch, ok := r.channels[projectID]; ok {
		r.mu.Unlock()
		ch.setCallbacks(cb)
		r.logger.Debug().Str("project_id", projectID).Msg("channel callbacks updated")
		return ch
	}

	ch := newChannel(projectID, r, cb, r.logger)
	r.channels[projectID] = ch
	count := len(r.channels)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveChannels.Set(float64(count))
	}
	r.logger.Info().Str("project_id", projectID).Msg("channel subscribed")

	ch.Subscribe()
	return ch
}

// Get returns the channel for a project, if one is subscribed.
func (r *Registry) Get(projectID string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[projectID]
	return ch, ok
}

// Unsubscribe tears down a project's channel. The registry entry is
// removed before the poll timer stops, so an in-flight poll that finishes
// after this call sees the removed guard and goes quiet.
func (r *Registry) Unsubscribe(projectID string) {
	r.mu.Lock()
	ch, ok := r.channels[projectID]
	delete(r.channels, projectID)
	count := len(r.channels)
	r.mu.Unlock()

	if !ok {
		return
	}
	ch.Unsubscribe()

	if r.metrics != nil {
		r.metrics.ActiveChannels.Set(float64(count))
	}
	r.logger.Info().Str("project_id", projectID).Msg("channel unsubscribed")
}

// UnsubscribeAll tears down every channel.
func (r *Registry) UnsubscribeAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unsubscribe(id)
	}
}

// ActiveProjects returns the project ids with a subscribed channel.
func (r *Registry) ActiveProjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}

// contains reports whether ch is still the registered channel for its
// project. This is the cancellation guard the poll loop checks.
func (r *Registry) contains(ch *Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[ch.projectID] == ch
}

func (r *Registry) recordCallback(kind string) {
	if r.metrics != nil {
		r.metrics.RecordCallback(kind)
	}
}
