package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/storetest"
	"github.com/garyjia/employee-lifecycle/pkg/database"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	raw, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "lifecycle.db"),
		MaxOpenConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	_, err = database.NewMigrator(raw, logger).RunMigrations()
	require.NoError(t, err)

	return sqlite.NewDB(raw.DB, logger)
}

func TestSQLiteRepositories_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		db := newTestDB(t)
		return storetest.Backend{Repos: NewRepositories(db, zap.NewNop()), Tx: db}
	})
}
