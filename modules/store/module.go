package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/example/presence-chat/domain/chat"
)

// ErrNotStarted is returned by queries issued before the module started.
var ErrNotStarted = errors.New("store not started")

// Config configures the store module.
type Config struct {
	DBPath    string
	DBDebug   bool
	RedisAddr string
	CacheTTL  time.Duration
}

// Module owns the message database and the optional history cache.
// It satisfies the chat message store contract once started.
type Module struct {
	cfg      Config
	observer Observer
	logger   types.Logger

	db     *gorm.DB
	repo   *Repository
	cached *CachedRepository
	redis  *redis.Client
	active backend
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new store module.
func NewModule(cfg Config, observer Observer, logger types.Logger) *Module {
	if cfg.DBPath == "" {
		cfg.DBPath = "chat.db"
	}
	return &Module{
		cfg:      cfg,
		observer: observer,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "store"
}

// Start opens the database, runs migrations and connects the cache if configured.
func (m *Module) Start(ctx context.Context) error {
	m.logger.Info("Connecting to SQLite database", "path", m.cfg.DBPath)

	db, err := Open(m.cfg.DBPath, m.cfg.DBDebug)
	if err != nil {
		return err
	}
	m.db = db
	m.repo = NewRepository(db, m.observer)
	m.active = m.repo

	if m.cfg.RedisAddr == "" {
		m.logger.Info("Store module started", "cache", "disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         m.cfg.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// History still works without the cache.
		m.logger.Warn("Redis unavailable, history cache disabled", "addr", m.cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	m.redis = client
	m.cached = NewCachedRepository(m.repo, client, m.cfg.CacheTTL, m.logger)
	m.active = m.cached

	m.logger.Info("Store module started", "cache", m.cfg.RedisAddr, "ttl", m.cfg.CacheTTL)
	return nil
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Message{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Stop closes the cache and database connections.
func (m *Module) Stop(_ context.Context) error {
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("Error closing Redis connection", "error", err)
		}
	}
	if m.db == nil {
		return nil
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	m.logger.Info("Database connection closed")
	return nil
}

// Health pings the database and, when enabled, the cache.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get sql.DB: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	details := map[string]any{
		"driver": "sqlite",
		"path":   m.cfg.DBPath,
		"cache":  m.cached != nil,
	}
	if m.cached != nil {
		details["cacheStats"] = m.cached.Stats()
		if err := m.cached.Ping(ctx); err != nil {
			details["cacheError"] = err.Error()
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// Save persists msg.
func (m *Module) Save(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if m.active == nil {
		return nil, ErrNotStarted
	}
	return m.active.Save(ctx, msg)
}

// Recent returns up to limit messages of roomID, most recent first.
func (m *Module) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if m.active == nil {
		return nil, ErrNotStarted
	}
	return m.active.Recent(ctx, roomID, limit)
}

// AllByRoom returns every message of roomID, most recent first.
func (m *Module) AllByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	if m.active == nil {
		return nil, ErrNotStarted
	}
	return m.active.AllByRoom(ctx, roomID)
}

// OpenConnections returns the number of database connections in use.
func (m *Module) OpenConnections() int {
	if m.db == nil {
		return 0
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().InUse
}
