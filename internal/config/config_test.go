package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/employee-lifecycle/internal/container"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

const sampleYAML = `
server:
  port: 9090
  shutdown_timeout: 3s
database:
  driver: sqlite
  path: /tmp/lifecycle-test.db
engine:
  max_retries: 5
  lock_timeout: 2s
lock:
  backend: memory
policy:
  role_task_types:
    tech_support: [checklist]
    finance: [FORM_COMPLETION, APPROVAL]
workers:
  overdue_interval: 30s
archive:
  enabled: true
  dir: /tmp/lifecycle-reports
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Engine.LockTimeout)
	assert.Equal(t, "lifecycle:lock:", cfg.Lock.KeyPrefix)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, []string{"checklist"}, cfg.Policy.RoleTaskTypes["tech_support"])
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/lifecycle.db", cfg.Database.Path)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.True(t, cfg.Workers.OverdueEnabled)
	assert.Equal(t, time.Minute, cfg.Workers.OverdueInterval)
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LIFECYCLE_SERVER_PORT", "7070")
	t.Setenv("LIFECYCLE_DB_DRIVER", "postgres")
	t.Setenv("LIFECYCLE_DB_DSN", "postgres://lifecycle@localhost/lifecycle")
	t.Setenv("LIFECYCLE_LOCK_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://lifecycle@localhost/lifecycle", cfg.Database.DSN)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "localhost:6379", cfg.Lock.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "database:\n  driver: mysql\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = Load(writeConfig(t, "database:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "database.dsn")

	_, err = Load(writeConfig(t, "lock:\n  backend: redis\n"))
	assert.ErrorContains(t, err, "lock.redis.addr")

	_, err = Load(writeConfig(t, "engine:\n  max_retries: -1\n"))
	assert.ErrorContains(t, err, "max_retries")

	_, err = Load(writeConfig(t, "workers:\n  overdue_interval: 0s\n"))
	assert.ErrorContains(t, err, "overdue_interval")

	_, err = Load(writeConfig(t, "archive:\n  enabled: true\n  dir: \"\"\n"))
	assert.ErrorContains(t, err, "archive.dir")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LIFECYCLE_DOTENV_PROBE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LIFECYCLE_DOTENV_PROBE") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("LIFECYCLE_DOTENV_PROBE"))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	cc := cfg.ToContainerConfig()
	require.NoError(t, cc.Validate())

	assert.Equal(t, container.DriverSQLite, cc.Database.Driver)
	assert.Equal(t, 9090, cc.Server.Port)
	assert.Equal(t, 5, cc.Engine.MaxRetries)
	assert.Equal(t, []entity.TaskType{entity.TaskTypeChecklist}, cc.Policy.RoleTaskTypes[entity.RoleTechSupport])
	assert.Equal(t,
		[]entity.TaskType{entity.TaskTypeFormCompletion, entity.TaskTypeApproval},
		cc.Policy.RoleTaskTypes[entity.RoleFinance])
	assert.Equal(t, 30*time.Second, cc.Workers.OverdueInterval)
	assert.True(t, cc.Workers.OverdueEnabled)
	assert.Equal(t, container.ArchiveConfig{Enabled: true, Dir: "/tmp/lifecycle-reports"}, cc.Archive)
}

func TestToContainerConfig_UnknownRoleFailsValidation(t *testing.T) {
	cfg, err := Load(writeConfig(t, "policy:\n  role_task_types:\n    janitor: [CHECKLIST]\n"))
	require.NoError(t, err)

	err = cfg.ToContainerConfig().Validate()
	assert.ErrorContains(t, err, "unknown role")
}
