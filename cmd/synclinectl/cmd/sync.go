package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync job commands",
	Long:  "Trigger and inspect integration sync jobs",
}

var syncTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a sync immediately",
	Long:  "Create a sync job for an integration, bypassing the poll interval",
	Example: `  synclinectl sync trigger --integration salesforce
  synclinectl sync trigger --integration netsuite --created-by alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		integrationType, _ := cmd.Flags().GetString("integration")
		createdBy, _ := cmd.Flags().GetString("created-by")

		if integrationType == "" {
			return fmt.Errorf("--integration is required")
		}

		return apiPost("/sync/trigger", map[string]string{
			"integration_type": integrationType,
			"created_by":       createdBy,
		})
	},
}

var syncJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return apiGet(fmt.Sprintf("/sync/jobs?limit=%d", limit))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncTriggerCmd)
	syncCmd.AddCommand(syncJobsCmd)

	syncTriggerCmd.Flags().StringP("integration", "i", "", "Integration type (salesforce, hubspot, netsuite)")
	syncTriggerCmd.Flags().String("created-by", "synclinectl", "Operator identifier recorded on the job")
	syncJobsCmd.Flags().IntP("limit", "n", 20, "Maximum number of jobs to list")
}
