package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var projectionsCmd = &cobra.Command{
	Use:   "projections",
	Short: "Projection commands",
	Long:  "Inspect projection lag and trigger rebuilds",
}

var projectionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show projection lag",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiGet("/projections")
	},
}

var projectionsRebuildCmd = &cobra.Command{
	Use:   "rebuild <name>",
	Short: "Rebuild a projection from the event log",
	Example: `  synclinectl projections rebuild dashboard-metrics
  synclinectl projections rebuild user-profile --since 2026-08-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")

		path := fmt.Sprintf("/projections/%s/rebuild", url.PathEscape(args[0]))
		if since != "" {
			if _, err := time.Parse(time.RFC3339, since); err != nil {
				return fmt.Errorf("--since must be RFC 3339: %w", err)
			}
			path += "?since=" + url.QueryEscape(since)
		}
		return apiPost(path, nil)
	},
}

func init() {
	rootCmd.AddCommand(projectionsCmd)
	projectionsCmd.AddCommand(projectionsStatusCmd)
	projectionsCmd.AddCommand(projectionsRebuildCmd)

	projectionsRebuildCmd.Flags().String("since", "", "Replay only events at or after this RFC 3339 timestamp")
}
