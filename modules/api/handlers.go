package api

import (
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/example/presence-chat/modules/chat"
)

// setupRoutes configures all HTTP routes.
func (m *Module) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// Metrics
	if m.recorder != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.recorder.Handler()))
	}
	app.Get("/api/metrics/current", m.currentMetrics)

	// WebSocket endpoints
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))
	app.Get("/ws/metrics", websocket.New(m.handleMetricsStream))

	// Chat queries
	api := app.Group("/api/chat")
	api.Get("/:roomId/history", m.getHistory)
	api.Get("/:roomId/messages", m.getMessages)
	api.Get("/:roomId/users", m.getUsers)
}

// healthHandler handles GET /health.
func (m *Module) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":            "api",
			"connected_clients": m.hub.ClientCount(),
			"topics":            m.hub.TopicCount(),
		},
	})
}

// currentMetrics handles GET /api/metrics/current.
func (m *Module) currentMetrics(c *fiber.Ctx) error {
	if m.snapshotter == nil {
		return fiber.ErrServiceUnavailable
	}
	snap, err := m.snapshotter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "metrics_failed",
			Message: "Failed to gather metrics",
		})
	}
	return c.JSON(snap)
}

// getHistory handles GET /api/chat/:roomId/history.
// Messages are returned oldest first.
func (m *Module) getHistory(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if err := chat.ValidateRoomID(roomID); err != nil {
		return badRequest(c, err.Error())
	}

	limit := m.cfg.HistoryDefaultLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > chat.MaxHistoryLimit {
			return badRequest(c, "limit must be between 1 and 1000")
		}
		limit = parsed
	}

	messages, err := m.chat.Recent(c.UserContext(), roomID, limit)
	if err != nil {
		m.logger.Error("Failed to load history", "roomID", roomID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "history_failed",
			Message: "Failed to load message history",
		})
	}
	return c.JSON(chronological(messages))
}

// getMessages handles GET /api/chat/:roomId/messages.
// Messages are returned most recent first.
func (m *Module) getMessages(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if err := chat.ValidateRoomID(roomID); err != nil {
		return badRequest(c, err.Error())
	}

	messages, err := m.chat.All(c.UserContext(), roomID)
	if err != nil {
		m.logger.Error("Failed to load messages", "roomID", roomID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "messages_failed",
			Message: "Failed to load messages",
		})
	}
	if messages == nil {
		return c.JSON([]any{})
	}
	return c.JSON(messages)
}

// getUsers handles GET /api/chat/:roomId/users.
func (m *Module) getUsers(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if err := chat.ValidateRoomID(roomID); err != nil {
		return badRequest(c, err.Error())
	}

	roster, err := m.presence.Roster(c.UserContext(), roomID)
	if err != nil {
		m.logger.Error("Failed to load roster", "roomID", roomID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "users_failed",
			Message: "Failed to load active users",
		})
	}
	return c.JSON(usersResponse(roster))
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}
