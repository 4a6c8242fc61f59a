package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var (
		url     string
		monitor bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the health of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, err := loadConfig(opts.configPath)
				if err != nil {
					return err
				}
				url = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			path := "/api/health"
			if monitor {
				path = "/api/monitor/health"
			}

			ctx := cmd.Context()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+path, nil)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			if key := os.Getenv("PERPBOT_SERVER_API_KEY"); key != "" {
				req.Header.Set("X-API-Key", key)
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("health: read body: %w", err)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(body)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health: %s returned %s", path, resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "base URL of the instance (default http://localhost:<server.port>)")
	cmd.Flags().BoolVar(&monitor, "monitor", false, "report the monitoring supervisor health instead")
	return cmd
}
