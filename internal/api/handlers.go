package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/channel"
	"github.com/p-blackswan/collab-sync/internal/collab"
	"github.com/p-blackswan/collab-sync/internal/health"
)

// Handlers holds API route handlers and their dependencies.
type Handlers struct {
	client  *collab.Client
	checker *health.Checker
	logger  zerolog.Logger
}

// NewHandlers creates API handlers backed by the given collaboration client.
func NewHandlers(client *collab.Client, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		client:  client,
		checker: checker,
		logger:  logger.With().Str("component", "api_handlers").Logger(),
	}
}

// Session credential headers for authenticated routes.
const (
	HeaderSessionID    = "X-Session-ID"
	HeaderSessionToken = "X-Session-Token"
)

// RequireSession authenticates mutating requests against the session token
// issued at session creation.
func (h *Handlers) RequireSession(c *fiber.Ctx) error {
	sessionID := c.Get(HeaderSessionID)
	token := c.Get(HeaderSessionToken)
	if sessionID == "" || token == "" {
		return problemResponse(c, fiber.StatusUnauthorized,
			"missing_credentials", "Unauthorized",
			"X-Session-ID and X-Session-Token headers are required")
	}
	if !h.client.ValidateSession(c.Context(), sessionID, token) {
		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_credentials", "Unauthorized",
			"session token is invalid or expired")
	}
	return c.Next()
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker != nil && !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

type createSessionRequest struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

// CreateSession handles POST /v1/sessions.
func (h *Handlers) CreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if req.ProjectID == "" || req.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "project_id and user_id are required")
	}

	session := h.client.CreateSession(req.ProjectID, req.UserID)
	if session == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"session_unavailable", "Service Unavailable", "could not create workspace session")
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

// CurrentSession handles GET /v1/sessions/current.
func (h *Handlers) CurrentSession(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"session_id": h.client.GetSessionID(),
		"connected":  h.client.IsConnected(),
	})
}

// EndSession handles DELETE /v1/sessions/current.
func (h *Handlers) EndSession(c *fiber.Ctx) error {
	h.client.EndSession()
	return c.SendStatus(fiber.StatusNoContent)
}

// ActiveUsers handles GET /v1/projects/:id/users.
func (h *Handlers) ActiveUsers(c *fiber.Ctx) error {
	projectID := c.Params("id")
	users := h.client.GetActiveUsers(projectID)
	return c.JSON(fiber.Map{
		"project_id": projectID,
		"count":      len(users),
		"users":      users,
	})
}

// Subscribe handles POST /v1/projects/:id/subscribe. The server-side channel
// keeps presence current via polling; remote callers read it back through
// the presence endpoint.
func (h *Handlers) Subscribe(c *fiber.Ctx) error {
	projectID := c.Params("id")
	h.client.SubscribeToProject(projectID, channel.Callbacks{})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"project_id": projectID})
}

// Unsubscribe handles DELETE /v1/projects/:id/subscribe.
func (h *Handlers) Unsubscribe(c *fiber.Ctx) error {
	h.client.UnsubscribeFromProject(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

// PresenceState handles GET /v1/projects/:id/presence.
func (h *Handlers) PresenceState(c *fiber.Ctx) error {
	projectID := c.Params("id")

	presence, ok := h.client.PresenceFor(projectID)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"not_subscribed", "Not Found", "no active channel for project "+projectID)
	}

	return c.JSON(fiber.Map{
		"project_id": projectID,
		"presence":   presence,
	})
}

// TrackPresence handles POST /v1/projects/:id/presence.
func (h *Handlers) TrackPresence(c *fiber.Ctx) error {
	var p channel.Presence
	if err := c.BodyParser(&p); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if p.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "user_id is required")
	}

	h.client.TrackPresence(c.Params("id"), p)
	return c.SendStatus(fiber.StatusAccepted)
}

// ActiveChannels handles GET /v1/channels.
func (h *Handlers) ActiveChannels(c *fiber.Ctx) error {
	channels := h.client.GetActiveChannels()
	return c.JSON(fiber.Map{
		"count":    len(channels),
		"channels": channels,
	})
}

type updateCursorRequest struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	FilePath  string            `json:"file_path"`
	Line      int64             `json:"line"`
	Column    int64             `json:"column"`
	Selection *collab.Selection `json:"selection,omitempty"`
}

// UpdateCursor handles POST /v1/cursors.
func (h *Handlers) UpdateCursor(c *fiber.Ctx) error {
	var req updateCursorRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if req.SessionID == "" || req.UserID == "" || req.FilePath == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "session_id, user_id and file_path are required")
	}

	cursor := h.client.UpdateCursor(req.SessionID, req.UserID, req.FilePath, req.Line, req.Column, req.Selection)
	if cursor == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"cursor_unavailable", "Service Unavailable", "could not persist cursor position")
	}

	return c.JSON(cursor)
}

type logEventRequest struct {
	ProjectID  string `json:"project_id"`
	EventType  string `json:"event_type"`
	ActorID    string `json:"actor_id"`
	SessionID  string `json:"session_id,omitempty"`
	ActorName  string `json:"actor_name,omitempty"`
	TargetFile string `json:"target_file,omitempty"`
	EventData  string `json:"event_data,omitempty"`
}

// LogEvent handles POST /v1/events.
func (h *Handlers) LogEvent(c *fiber.Ctx) error {
	var req logEventRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if req.ProjectID == "" || req.EventType == "" || req.ActorID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "project_id, event_type and actor_id are required")
	}

	event := h.client.LogEvent(req.ProjectID, req.EventType, req.ActorID, collab.EventOptions{
		SessionID:  req.SessionID,
		ActorName:  req.ActorName,
		TargetFile: req.TargetFile,
		EventData:  req.EventData,
	})
	if event == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"event_unavailable", "Service Unavailable", "could not record collaboration event")
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

type lockRequest struct {
	ProjectID string `json:"project_id"`
	FilePath  string `json:"file_path"`
	UserID    string `json:"user_id"`
	LockType  string `json:"lock_type,omitempty"`
}

// AcquireLock handles POST /v1/locks.
func (h *Handlers) AcquireLock(c *fiber.Ctx) error {
	var req lockRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if req.ProjectID == "" || req.FilePath == "" || req.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "project_id, file_path and user_id are required")
	}

	acquired := h.client.AcquireFileLock(req.ProjectID, req.FilePath, req.UserID, req.LockType)
	status := fiber.StatusOK
	if !acquired {
		status = fiber.StatusConflict
	}

	return c.Status(status).JSON(fiber.Map{
		"acquired":  acquired,
		"file_path": req.FilePath,
	})
}

// ReleaseLock handles DELETE /v1/locks.
func (h *Handlers) ReleaseLock(c *fiber.Ctx) error {
	var req lockRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "request body must be valid JSON")
	}
	if req.ProjectID == "" || req.FilePath == "" || req.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "project_id, file_path and user_id are required")
	}

	h.client.ReleaseFileLock(req.ProjectID, req.FilePath, req.UserID)
	return c.SendStatus(fiber.StatusNoContent)
}

// CheckLock handles GET /v1/locks/check.
func (h *Handlers) CheckLock(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	filePath := c.Query("file_path")
	if projectID == "" || filePath == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_field", "Bad Request", "project_id and file_path query parameters are required")
	}

	return c.JSON(h.client.CheckFileLock(projectID, filePath))
}

// SweepLocks handles POST /v1/locks/sweep.
func (h *Handlers) SweepLocks(c *fiber.Ctx) error {
	removed := h.client.CleanupExpiredLocks()
	return c.JSON(fiber.Map{"removed": removed})
}

func problemResponse(c *fiber.Ctx, status int, problemType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
