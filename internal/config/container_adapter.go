package config

import (
	"strings"

	"github.com/garyjia/employee-lifecycle/internal/container"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			RunMigrations:   c.Database.RunMigrations,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		Engine: container.EngineConfig{
			MaxRetries:  c.Engine.MaxRetries,
			LockTimeout: c.Engine.LockTimeout,
		},
		Lock: container.LockConfig{
			Backend:       c.Lock.Backend,
			RedisAddr:     c.Lock.Redis.Addr,
			RedisPassword: c.Lock.Redis.Password,
			RedisDB:       c.Lock.Redis.DB,
			KeyPrefix:     c.Lock.KeyPrefix,
			TTL:           c.Lock.TTL,
			RetryInterval: c.Lock.RetryInterval,
		},
		Policy: container.PolicyConfig{
			RoleTaskTypes: roleTaskTypes(c.Policy.RoleTaskTypes),
		},
		Workers: container.WorkersConfig{
			OverdueEnabled:  c.Workers.OverdueEnabled,
			OverdueInterval: c.Workers.OverdueInterval,
		},
		Archive: container.ArchiveConfig{
			Enabled: c.Archive.Enabled,
			Dir:     c.Archive.Dir,
		},
	}
}

// roleTaskTypes normalizes config keys like tech_support to TECH_SUPPORT.
// Unknown names pass through so container validation can report them.
func roleTaskTypes(raw map[string][]string) map[entity.Role][]entity.TaskType {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[entity.Role][]entity.TaskType, len(raw))
	for role, types := range raw {
		converted := make([]entity.TaskType, 0, len(types))
		for _, t := range types {
			converted = append(converted, entity.TaskType(strings.ToUpper(strings.TrimSpace(t))))
		}
		out[entity.Role(strings.ToUpper(strings.TrimSpace(role)))] = converted
	}
	return out
}
