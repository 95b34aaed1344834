package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix scopes environment overrides, e.g. LIFECYCLE_SERVER_PORT
const EnvPrefix = "LIFECYCLE"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Lock     LockConfig     `mapstructure:"lock"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// LockConfig selects the instance lock backend
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the redis connection used by the redis lock backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PolicyConfig overrides which task types each specialist role may act on.
// Keys are role names in any case, e.g. tech_support.
type PolicyConfig struct {
	RoleTaskTypes map[string][]string `mapstructure:"role_task_types"`
}

// WorkersConfig holds background worker configuration
type WorkersConfig struct {
	OverdueEnabled  bool          `mapstructure:"overdue_enabled"`
	OverdueInterval time.Duration `mapstructure:"overdue_interval"`
}

// ArchiveConfig controls the final report written for finished instances
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Load loads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports variables from an optional .env file.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/lifecycle.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.run_migrations", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Engine defaults
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.lock_timeout", 0)

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.key_prefix", "lifecycle:lock:")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 25*time.Millisecond)
	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)

	// Worker defaults
	v.SetDefault("workers.overdue_enabled", true)
	v.SetDefault("workers.overdue_interval", time.Minute)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dir", "data/reports")
}

// bindEnvVars binds the unprefixed variables deployments already use
func bindEnvVars(v *viper.Viper) {
	// Credentials come from the environment
	_ = v.BindEnv("database.dsn", "LIFECYCLE_DB_DSN", "DATABASE_URL")
	_ = v.BindEnv("database.driver", "LIFECYCLE_DB_DRIVER")
	_ = v.BindEnv("lock.redis.addr", "LIFECYCLE_LOCK_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("lock.redis.password", "LIFECYCLE_LOCK_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required (set LIFECYCLE_DB_DSN)")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	switch c.Lock.Backend {
	case "memory", "none":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required (set REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("lock.backend must be memory, redis or none, got %q", c.Lock.Backend)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}

	if c.Workers.OverdueEnabled && c.Workers.OverdueInterval <= 0 {
		return fmt.Errorf("workers.overdue_interval must be positive")
	}

	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when archive.enabled is set")
	}

	return nil
}
