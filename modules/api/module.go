package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/metrics"
	"github.com/example/presence-chat/modules/presence"
)

// Inbound message rate per connection.
const (
	defaultMessagesPerSecond = 10
	defaultMessageBurst      = 20
)

// Config configures the API module.
type Config struct {
	Port                string
	AllowedOrigins      string
	HistoryDefaultLimit int
	SendQueueSize       int
	MetricsInterval     time.Duration
	MessagesPerSecond   float64
	MessageBurst        int
}

func (c *Config) setDefaults() {
	if c.Port == "" {
		c.Port = "3000"
	}
	if c.HistoryDefaultLimit <= 0 {
		c.HistoryDefaultLimit = 50
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = time.Second
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = defaultMessagesPerSecond
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = defaultMessageBurst
	}
}

// Lifecycle receives connection lifecycle events.
type Lifecycle interface {
	Handle(ctx context.Context, ev presence.Event) error
}

// Intake accepts chat messages for persistence and broadcast.
type Intake interface {
	HandleIncoming(ctx context.Context, roomID string, in chat.Inbound) <-chan chat.Outcome
}

// PipelineProvider exposes the chat pipeline once its module has started.
type PipelineProvider interface {
	Pipeline() *chat.Pipeline
}

// Module is the HTTP API module with WebSocket support.
type Module struct {
	cfg         Config
	app         *fiber.App
	hub         *broadcast.Hub
	lifecycle   Lifecycle
	pipelines   PipelineProvider
	intake      Intake
	chat        chat.ChatPort
	presence    presence.PresencePort
	recorder    *metrics.Recorder
	snapshotter *metrics.Snapshotter
	stop        chan struct{}

	// handlers tracks websocket handlers; no new one starts once stopping is set.
	handlersMu sync.Mutex
	handlers   sync.WaitGroup
	stopping   bool
	logger      types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new API module.
func NewModule(
	cfg Config,
	hub *broadcast.Hub,
	lifecycle Lifecycle,
	pipelines PipelineProvider,
	recorder *metrics.Recorder,
	snapshotter *metrics.Snapshotter,
	logger types.Logger,
) *Module {
	cfg.setDefaults()
	return &Module{
		cfg:         cfg,
		hub:         hub,
		lifecycle:   lifecycle,
		pipelines:   pipelines,
		recorder:    recorder,
		snapshotter: snapshotter,
		stop:        make(chan struct{}),
		logger:      logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *Module) Dependencies() []string {
	return []string{"chat", "presence"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "chat":
		m.chat = chat.NewChatAdapter(container)
	case "presence":
		m.presence = presence.NewPresenceAdapter(container)
	}
}

// Start initializes and starts the HTTP server.
func (m *Module) Start(_ context.Context) error {
	if m.chat == nil {
		return fmt.Errorf("chat adapter dependency not set")
	}
	if m.presence == nil {
		return fmt.Errorf("presence adapter dependency not set")
	}
	if m.hub == nil || m.lifecycle == nil {
		return fmt.Errorf("broadcast hub and lifecycle dependencies not set")
	}
	if m.pipelines == nil || m.pipelines.Pipeline() == nil {
		return fmt.Errorf("chat pipeline not started")
	}
	m.intake = m.pipelines.Pipeline()

	m.app = m.newApp()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.cfg.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.cfg.Port)
	return nil
}

// newApp builds the Fiber app with middleware and routes.
func (m *Module) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "presence-chat",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	if m.recorder != nil {
		app.Use(m.recorder.Middleware())
	}
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Get(fiber.HeaderUpgrade) == "websocket"
		},
	}))
	if m.cfg.AllowedOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: m.cfg.AllowedOrigins,
			AllowMethods: "GET,OPTIONS",
			AllowHeaders: "Content-Type",
		}))
	}

	m.setupRoutes(app)
	return app
}

// Stop ends metric streams, closes websocket clients, waits for their handlers
// and shuts the server down. Once it returns no handler can reach the chat pipeline.
func (m *Module) Stop(ctx context.Context) error {
	m.handlersMu.Lock()
	alreadyStopping := m.stopping
	m.stopping = true
	m.handlersMu.Unlock()

	if !alreadyStopping {
		close(m.stop)
	}
	if m.hub != nil {
		m.hub.CloseAll()
	}
	if err := m.waitHandlers(ctx); err != nil {
		m.logger.Warn("WebSocket handlers still running at shutdown", "error", err)
	}
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// enterHandler registers a websocket handler. It reports false once Stop has begun.
func (m *Module) enterHandler() bool {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	if m.stopping {
		return false
	}
	m.handlers.Add(1)
	return true
}

func (m *Module) waitHandlers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port":              m.cfg.Port,
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// errorHandler handles Fiber errors.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
