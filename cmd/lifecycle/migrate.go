package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/config"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/employee-lifecycle/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			applied, err := migrate(cmd, &cfg.Database, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Driver)
			return nil
		},
	}
}

func migrate(cmd *cobra.Command, cfg *config.DatabaseConfig, logger *zap.Logger) (int, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.New(cmd.Context(), cfg.DSN, int32(cfg.MaxOpenConns), logger)
		if err != nil {
			return 0, err
		}
		defer store.Close()
		return store.Migrate(cmd.Context())

	case "sqlite":
		db, err := database.New(database.Config{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			BusyTimeout:     cfg.BusyTimeout,
		}, logger)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		return database.NewMigrator(db, logger).RunMigrations()

	default:
		return 0, fmt.Errorf("driver %q has no migrations", cfg.Driver)
	}
}
