package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/server"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's fleet and health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.StatusResponse
			if err := apiRequest("GET", "/api/status", &resp); err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}
