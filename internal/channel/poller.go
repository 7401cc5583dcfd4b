package channel

import (
	"time"
)

// The polling engine simulates a push channel with request/response
// queries. Two invariants keep it correct: at most one poll cycle per
// project is ever in flight, and the next cycle is scheduled only after
// the current one completes, so slow queries stretch the cadence instead
// of overlapping it.

// schedule arms the poll timer if the channel is still subscribed.
func (c *Channel) schedule(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.timer = time.AfterFunc(d, c.poll)
}

// poll runs one cycle and reschedules the next.
func (c *Channel) poll() {
	// Removed from the registry: stop without rescheduling.
	if !c.reg.contains(c) {
		return
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	cb := c.callbacks
	c.mu.Unlock()

	start := time.Now()
	failed := c.cycle(cb)

	if c.reg.metrics != nil {
		c.reg.metrics.ObservePollDuration(time.Since(start).Seconds())
		if failed {
			c.reg.metrics.RecordPoll("error")
		} else {
			c.reg.metrics.RecordPoll("ok")
		}
	}

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()

	// Reschedule relative to cycle completion, and only while the channel
	// is still registered.
	if c.reg.contains(c) {
		c.schedule(c.reg.opts.PollInterval)
	}
}

// cycle performs the three queries of one poll: recent cursors, recent
// events (newest first), then active sessions folded into a brand-new
// presence snapshot. Query failures are logged and the cycle moves on to
// the next query.
func (c *Channel) cycle(cb Callbacks) (failed bool) {
	opts := c.reg.opts
	now := time.Now()

	cursors, err := c.reg.store.RecentCursors(c.projectID, now.Add(-opts.Lookback).UnixMilli())
	if err != nil {
		c.logger.Warn().Err(err).Msg("cursor poll failed")
		failed = true
	} else if cb.OnCursorUpdate != nil {
		for _, cur := range cursors {
			cb.OnCursorUpdate(cur)
			c.reg.recordCallback("cursor")
		}
	}

	events, err := c.reg.store.RecentEvents(c.projectID, now.Add(-opts.Lookback).UnixMilli(), opts.EventLimit)
	if err != nil {
		c.logger.Warn().Err(err).Msg("event poll failed")
		failed = true
	} else if cb.OnEvent != nil {
		for _, e := range events {
			cb.OnEvent(e)
			c.reg.recordCallback("event")
		}
	}

	sessions, err := c.reg.store.ActiveSessions(c.projectID, now.Add(-opts.PresenceWindow).UnixMilli())
	if err != nil {
		c.logger.Warn().Err(err).Msg("presence poll failed")
		failed = true
	} else {
		// Build a fresh map from scratch — the previous one is never
		// touched — then swap it in atomically.
		fresh := make(map[string]Presence, len(sessions))
		for _, ws := range sessions {
			fresh[ws.UserID] = presenceFromSession(ws)
		}
		snapshot := c.replacePresence(fresh)

		if cb.OnPresenceChange != nil {
			cb.OnPresenceChange(snapshot)
			c.reg.recordCallback("presence")
		}
	}

	return failed
}
