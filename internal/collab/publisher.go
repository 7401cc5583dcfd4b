package collab

import (
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/collab-sync/internal/store"
)

// Selection is an optional selected range accompanying a cursor update.
type Selection struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// EventOptions carries the optional fields of a collaboration event.
type EventOptions struct {
	SessionID  string
	ActorName  string
	TargetFile string
	EventData  string
}

// UpdateCursor upserts the session's cursor for a file (last write wins)
// and echoes it synchronously to the local channel, if the session's
// project has one. When the session→project mapping is absent the write is
// still durable and surfaces to other pollers on their next cycle.
func (c *Client) UpdateCursor(sessionID, userID, filePath string, line, column int64, sel *Selection) *store.LiveCursor {
	cur := &store.LiveCursor{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		FilePath:  filePath,
		Line:      line,
		Column:    column,
		UpdatedAt: time.Now().UnixMilli(),
	}
	if sel != nil {
		start, end := sel.Start, sel.End
		cur.SelectionStart = &start
		cur.SelectionEnd = &end
	}

	if err := c.store.UpsertCursor(cur); err != nil {
		c.logger.Error().Err(err).
			Str("session_id", sessionID).
			Str("file_path", filePath).
			Msg("failed to upsert cursor")
		if c.metrics != nil {
			c.metrics.RecordStoreError("live_cursors")
		}
		return nil
	}

	// Local echo: bypass the poll delay for our own subscriber.
	if projectID, ok := c.sessions.ProjectFor(sessionID); ok {
		if ch, ok := c.channels.Get(projectID); ok {
			ch.EchoCursor(cur)
		}
	}
	return cur
}

// LogEvent appends an immutable collaboration event and echoes it
// synchronously to the project's local channel, if one exists. The id is
// generated locally before the insert, so the echoed record is always
// complete even when the store write fails.
func (c *Client) LogEvent(projectID, eventType, actorID string, opts EventOptions) *store.CollaborationEvent {
	e := &store.CollaborationEvent{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		SessionID:  opts.SessionID,
		EventType:  eventType,
		ActorID:    actorID,
		ActorName:  opts.ActorName,
		TargetFile: opts.TargetFile,
		EventData:  opts.EventData,
		CreatedAt:  time.Now().UnixMilli(),
	}

	if err := c.store.InsertEvent(e); err != nil {
		c.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("event_type", eventType).
			Msg("failed to insert event")
		if c.metrics != nil {
			c.metrics.RecordStoreError("collaboration_events")
		}
		// Best-effort: the local subscriber still hears about it.
	}

	if ch, ok := c.channels.Get(projectID); ok {
		ch.EchoEvent(e)
	}
	return e
}
