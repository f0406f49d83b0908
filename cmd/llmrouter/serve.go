package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmrouter/internal/app"
	"llmrouter/internal/version"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}

			slog.Info("starting llmrouter",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
				"config", loaded.Path,
			)

			application, err := app.New(cmd.Context(), app.Config{
				AppConfig:   loaded,
				Factory:     newFactory(),
				WatchConfig: watch,
			})
			if err != nil {
				return err
			}

			// Handle graceful shutdown
			go func() {
				quit := make(chan os.Signal, 1)
				signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
				<-quit

				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := application.Shutdown(ctx); err != nil {
					slog.Error("shutdown error", "error", err)
				}
			}()

			return application.Start(":" + loaded.Config.Server.Port)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload providers when the config file changes")
	return cmd
}
