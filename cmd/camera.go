package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/server"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id|all>",
		Short: "Start one camera's supervisor, or every configured camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchCameraAction(args[0], "/api/start_all", "/api/camera/%s/start")
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id|all>",
		Short: "Stop one camera's supervisor, or every configured camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchCameraAction(args[0], "/api/stop_all", "/api/camera/%s/stop")
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id|all>",
		Short: "Restart one camera's supervisor, or every configured camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "all" {
				var resp server.RestartResponse
				if err := apiRequest("POST", "/api/system/restart_cameras", &resp); err != nil {
					return err
				}
				printJSON(resp)
				return nil
			}
			// No single-camera restart route exists; stop then start.
			if err := apiRequest("POST", fmt.Sprintf("/api/camera/%s/stop", args[0]), nil); err != nil {
				return err
			}
			if err := apiRequest("POST", fmt.Sprintf("/api/camera/%s/start", args[0]), nil); err != nil {
				return err
			}
			printJSON(server.OKResponse{OK: true})
			return nil
		},
	}
}

func dispatchCameraAction(id, allPath, singlePathFmt string) error {
	if id == "all" {
		var resp server.BulkResponse
		if err := apiRequest("POST", allPath, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	}
	var resp server.OKResponse
	if err := apiRequest("POST", fmt.Sprintf(singlePathFmt, id), &resp); err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
