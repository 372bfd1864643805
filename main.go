package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/presence-chat/config"
	"github.com/example/presence-chat/modules/api"
	"github.com/example/presence-chat/modules/broadcast"
	"github.com/example/presence-chat/modules/chat"
	"github.com/example/presence-chat/modules/metrics"
	"github.com/example/presence-chat/modules/presence"
	"github.com/example/presence-chat/modules/store"
)

func main() {
	log.Println("=== Presence Chat - Fiber + WebSocket + Presence ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()
	recorder := metrics.NewRecorder()

	// Create modules
	broadcastModule := broadcast.NewModule(logger.WithModule("broadcast"))
	hub := broadcastModule.Hub()

	storeModule := store.NewModule(store.Config{
		DBPath:    cfg.DBPath,
		DBDebug:   cfg.DBDebug,
		RedisAddr: cfg.RedisAddr,
		CacheTTL:  cfg.HistoryCacheTTL,
	}, recorder, logger.WithModule("store"))

	snapshotter := metrics.NewSnapshotter(recorder, storeModule.OpenConnections)
	metricsModule := metrics.NewModule(recorder, snapshotter, logger.WithModule("metrics"))

	presenceModule := presence.NewModule(hub, logger.WithModule("presence"))

	chatModule := chat.NewModule(storeModule, hub, recorder, chat.PipelineConfig{
		SaveTimeout: cfg.SaveTimeout,
	}, logger.WithModule("chat"))

	apiModule := api.NewModule(api.Config{
		Port:                cfg.Port,
		AllowedOrigins:      cfg.AllowedOrigins(),
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		SendQueueSize:       cfg.SendQueueSize,
		MetricsInterval:     cfg.MetricsInterval,
	}, hub, presenceModule.Bridge(), chatModule, recorder, snapshotter, logger.WithModule("api"))

	// Register modules with the framework.
	// Order: infrastructure first, then domain modules, then the driving adapter.
	// - broadcast: pub/sub hub shared by presence, chat and api
	// - store: SQLite persistence + optional Redis history cache
	// - metrics: Prometheus registry + event consumer
	// - presence: session registry, room index, lifecycle bridge (roster service)
	// - chat: message pipeline (history services)
	// - api: Fiber HTTP/WebSocket server, depends on chat and presence
	app.Register(broadcastModule)
	app.Register(storeModule)
	app.Register(metricsModule)
	app.Register(presenceModule)
	app.Register(chatModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg *config.Config) {
	cache := "disabled"
	if cfg.RedisAddr != "" {
		cache = cfg.RedisAddr
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Printf("  - Database: SQLite (%s)", cfg.DBPath)
	log.Printf("  - History cache: %s", cache)
	log.Println("")
	log.Println("Presence & Chat:")
	log.Println("  - join/leave/disconnect -> presence bridge -> room-presence:{room} snapshots")
	log.Println("  - message -> save -> room-chat:{room} broadcast (dropped if the save fails)")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                        - Health check")
	log.Println("  GET    /api/chat/:roomId/history      - Recent messages, oldest first (?limit=50)")
	log.Println("  GET    /api/chat/:roomId/messages     - All messages, most recent first")
	log.Println("  GET    /api/chat/:roomId/users        - Active users of a room")
	log.Println("  GET    /api/metrics/current           - System health snapshot")
	log.Println("  GET    /metrics                       - Prometheus metrics")
	log.Println("")
	log.Printf("WebSocket Endpoints (ws://localhost:%s):", cfg.Port)
	log.Println("  /ws?username=yourname  - frames: join, leave, message, subscribe, unsubscribe, history, users")
	log.Printf("  /ws/metrics            - snapshot every %s", cfg.MetricsInterval)
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
