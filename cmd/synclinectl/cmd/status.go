package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lake zone health",
	Long:  "Show per-zone record counts and freshness timestamps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiGet("/lake/health")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
