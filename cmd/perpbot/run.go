package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/perpbot/internal/app"
	"github.com/alanyoungcy/perpbot/internal/config"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the service in the configured mode (monitor, server or full)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := newLogger(cfg.LogLevel)
			logger.Info("perpbot starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", opts.configPath),
			)
			logger.Debug("perpbot configuration", slog.Any("config", config.RedactedConfig(cfg)))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("perpbot exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("perpbot stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode")
	return cmd
}
