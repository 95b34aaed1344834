package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/container"
)

const version = "1.0.0"

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			// Set Gin mode based on logger level
			if cfg.Logger.Level == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			logger.Info("Starting employee lifecycle engine",
				zap.String("version", version),
				zap.String("driver", cfg.Database.Driver),
				zap.Int("port", cfg.Server.Port))

			c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Start(ctx); err != nil {
				return err
			}
			if err := c.Workers().StartAll(ctx); err != nil {
				_ = c.Close()
				return err
			}

			serveErr := c.HTTPServer().Start(ctx)
			if serveErr != nil {
				logger.Error("HTTP server exited", zap.Error(serveErr))
			}

			logger.Info("Shutting down")
			if err := c.Close(); err != nil {
				logger.Error("Shutdown finished with errors", zap.Error(err))
				if serveErr == nil {
					serveErr = err
				}
			}
			return serveErr
		},
	}
}
