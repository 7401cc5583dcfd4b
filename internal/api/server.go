// Package api exposes the collaboration client over HTTP for out-of-process
// callers: session lifecycle, cursor and event publishing, presence
// inspection and file locks, plus the usual probe and metrics endpoints.
package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collab-sync/internal/collab"
	"github.com/p-blackswan/collab-sync/internal/health"
	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/requestid"
)

// ProblemDetail is the JSON error body returned by the API.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Server is the collaboration API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	addr     string
}

// NewServer creates and configures the API server. metricsCollector may be
// nil.
func NewServer(
	addr string,
	client *collab.Client,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	handlers := NewHandlers(client, checker, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "api_server").Logger(),
		addr:     addr,
	}

	s.setupMiddleware(logger)
	s.setupRoutes(handlers, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID assignment and logging, skipping noisy probes.
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestid.Header)
		if reqID == "" {
			_, reqID = requestid.New(c.Context())
		}
		c.Set(requestid.Header, reqID)

		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", reqID).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, metricsCollector *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	}

	v1 := s.app.Group("/v1")

	// Session lifecycle. Creation hands out the token the mutating
	// routes below authenticate with.
	v1.Post("/sessions", h.CreateSession)
	v1.Get("/sessions/current", h.CurrentSession)
	v1.Delete("/sessions/current", h.RequireSession, h.EndSession)

	// Project views
	v1.Get("/projects/:id/users", h.ActiveUsers)
	v1.Get("/projects/:id/presence", h.PresenceState)
	v1.Post("/projects/:id/subscribe", h.RequireSession, h.Subscribe)
	v1.Delete("/projects/:id/subscribe", h.RequireSession, h.Unsubscribe)
	v1.Post("/projects/:id/presence", h.RequireSession, h.TrackPresence)
	v1.Get("/channels", h.ActiveChannels)

	// Publishing
	v1.Post("/cursors", h.RequireSession, h.UpdateCursor)
	v1.Post("/events", h.RequireSession, h.LogEvent)

	// Locks
	v1.Post("/locks", h.RequireSession, h.AcquireLock)
	v1.Delete("/locks", h.RequireSession, h.ReleaseLock)
	v1.Get("/locks/check", h.CheckLock)
	v1.Post("/locks/sweep", h.RequireSession, h.SweepLocks)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("collaboration API server starting")
	return s.app.Listen(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("collaboration API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "internal_error",
			Title:    "Internal Server Error",
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
