// Command perpbot is the entry point for the position and order monitoring
// engine. It loads configuration, validates it, wires dependencies, sets up
// signal handling, and starts the application in the configured mode.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/perpbot/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "perpbot",
		Short:         "Position, order and liquidation-risk monitoring for GMX perpetuals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "path to configuration file (.toml, .yaml or .yml)")

	run := newRunCmd(opts)
	root.AddCommand(run, newMigrateCmd(opts), newEncryptKeyCmd(), newHealthCmd(opts))
	// Plain `perpbot` behaves like `perpbot run`.
	root.RunE = run.RunE
	return root
}

// loadConfig loads and validates the configuration. A missing default
// config file is tolerated so env-only deployments work.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.toml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a JSON logger on stdout at the given level and makes it
// the default.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
