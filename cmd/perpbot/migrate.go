package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/perpbot/internal/app"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			newLogger(cfg.LogLevel)

			client, err := app.OpenPostgres(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer client.Close()

			applied, err := client.RunMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
