package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/server"
)

func transcodeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "transcode",
		Short: "Inspect or toggle the background re-encoder",
	}
	c.AddCommand(transcodeStatsCmd(), transcodeEnableCmd(), transcodeDisableCmd())
	return c
}

func transcodeStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the re-encoder's current status and accumulated savings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.TranscodingStatusResponse
			if err := apiRequest("GET", "/api/transcoding/status", &resp); err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}

func transcodeEnableCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "enable",
		Short: "Enable the re-encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/transcoding/enable"
			if force {
				path += "?force=true"
			}
			var resp server.OKResponse
			if err := apiRequest("POST", path, &resp); err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "enable even outside the configured schedule window")
	return c
}

func transcodeDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the re-encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.OKResponse
			if err := apiRequest("POST", "/api/transcoding/disable", &resp); err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}
