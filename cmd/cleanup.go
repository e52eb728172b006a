package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/storage"
)

// cleanupCmd has no HTTP route of its own: it runs the same age-based prune
// the daemon's health tick runs, directly against the storage manager, the
// same way the original camera_recorder's --cleanup flag worked in-process
// with no server dependency.
func cleanupCmd() *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove segments older than the configured retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, nil)
			if err != nil {
				return err
			}
			sm := storage.New(cfg.RecordingsBaseDirectory, func(id string) string {
				if src, ok := cfg.Sources[id]; ok {
					return src.Dir
				}
				return filepath.Join(cfg.RecordingsBaseDirectory, id)
			})
			maxAge := time.Duration(cfg.Storage.MaxAgeDays) * 24 * time.Hour
			result, err := sm.PruneByAge(maxAge, dryRun)
			if err != nil {
				return err
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Printf("%s %d segment(s), %d byte(s) freed\n", verb, result.RemovedCount, result.FreedBytes)
			return nil
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting anything")
	return c
}
