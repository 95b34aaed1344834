// Package container provides dependency injection and lifecycle management
// for the employee lifecycle engine.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Lock backends
const (
	LockMemory = "memory"
	LockRedis  = "redis"
	LockNone   = "none"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Engine   EngineConfig
	Lock     LockConfig
	Policy   PolicyConfig
	Workers  WorkersConfig
	Archive  ArchiveConfig
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres or memory
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the PostgreSQL connection URL
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration

	// RunMigrations applies pending embedded migrations on start
	RunMigrations bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	// MaxRetries bounds whole-operation retries on version conflicts
	MaxRetries int

	// LockTimeout caps the wait for an instance lock; 0 waits for the request context
	LockTimeout time.Duration
}

// LockConfig selects the per-instance lock backend.
type LockConfig struct {
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

// PolicyConfig overrides the task categories of specialist roles.
type PolicyConfig struct {
	RoleTaskTypes map[entity.Role][]entity.TaskType
}

// WorkersConfig controls background workers.
type WorkersConfig struct {
	// OverdueEnabled runs the scanner that publishes task.overdue events
	OverdueEnabled  bool
	OverdueInterval time.Duration
}

// ArchiveConfig controls the workbook saved when an instance completes or is cancelled.
type ArchiveConfig struct {
	Enabled bool
	Dir     string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "data/lifecycle.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			RunMigrations:   true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			MaxRetries: 3,
		},
		Lock: LockConfig{
			Backend:       LockMemory,
			KeyPrefix:     "lifecycle:lock:",
			TTL:           30 * time.Second,
			RetryInterval: 25 * time.Millisecond,
		},
		Workers: WorkersConfig{
			OverdueEnabled:  true,
			OverdueInterval: time.Minute,
		},
		Archive: ArchiveConfig{
			Dir: "data/reports",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Lock.Backend {
	case LockMemory, LockNone:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}

	if c.Workers.OverdueEnabled && c.Workers.OverdueInterval <= 0 {
		return fmt.Errorf("workers.overdue_interval must be positive")
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when the archive is enabled")
	}

	for role, types := range c.Policy.RoleTaskTypes {
		if !role.IsValid() {
			return fmt.Errorf("policy.role_task_types: unknown role %q", role)
		}
		for _, t := range types {
			if !t.IsValid() {
				return fmt.Errorf("policy.role_task_types.%s: unknown task type %q", role, t)
			}
		}
	}

	return nil
}
