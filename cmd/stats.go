package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/server"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage usage across the recordings volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.StorageUsageResponse
			if err := apiRequest("GET", "/api/storage", &resp); err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}
