package transcode

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Reconcile walks baseDir on startup and resolves every segment left in a
// partial state by a prior crash, per spec.md §4.7:
//
//   - a .transcoding temp with no matching .original is abandoned work;
//     delete it.
//   - an .original with no marker but a real P still in place means the
//     swap crashed after step 2 but before step 3; synthesize a marker
//     with default retention so the deferred-delete sweep still reclaims
//     the backup eventually.
//   - a marker with no .original is orphaned; delete it.
func (e *Engine) Reconcile() error {
	entries, err := os.ReadDir(e.baseDir)
	if err != nil {
		return err
	}

	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		dir := filepath.Join(e.baseDir, dirEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		names := make(map[string]struct{}, len(files))
		for _, f := range files {
			names[f.Name()] = struct{}{}
		}

		for name := range names {
			switch {
			case strings.HasSuffix(name, transcodingSuffix):
				base := strings.TrimSuffix(name, transcodingSuffix)
				if _, hasOriginal := names[base+originalSuffix]; !hasOriginal {
					path := filepath.Join(dir, name)
					if err := os.Remove(path); err != nil {
						e.logger.Error("failed to remove abandoned transcoding temp", "path", path, "error", err)
					} else {
						e.logger.Warn("removed abandoned transcoding temp", "path", path)
					}
				}

			case strings.HasSuffix(name, originalSuffix):
				base := strings.TrimSuffix(name, originalSuffix)
				if _, hasMarker := names[base+markerSuffix]; hasMarker {
					continue
				}
				if _, hasSwapped := names[base]; !hasSwapped {
					continue
				}
				if err := e.synthesizeMarker(dir, base); err != nil {
					e.logger.Error("failed to synthesize marker for incomplete swap", "path", filepath.Join(dir, base), "error", err)
				} else {
					e.logger.Warn("synthesized marker for incomplete swap", "path", filepath.Join(dir, base))
				}

			case strings.HasSuffix(name, markerSuffix):
				base := strings.TrimSuffix(name, markerSuffix)
				if _, hasOriginal := names[base+originalSuffix]; !hasOriginal {
					path := filepath.Join(dir, name)
					if err := os.Remove(path); err != nil {
						e.logger.Error("failed to remove orphaned marker", "path", path, "error", err)
					} else {
						e.logger.Warn("removed orphaned marker", "path", path)
					}
				}
			}
		}
	}
	return nil
}

// synthesizeMarker rebuilds the .transcoded marker that a crash between
// the atomic swap's rename steps and its final marker write left missing.
func (e *Engine) synthesizeMarker(dir, base string) error {
	swappedPath := filepath.Join(dir, base)
	originalBackup := swappedPath + originalSuffix

	newInfo, err := os.Stat(swappedPath)
	if err != nil {
		return err
	}
	origInfo, err := os.Stat(originalBackup)
	if err != nil {
		return err
	}

	marker := Marker{
		TranscodedAt: newInfo.ModTime().UTC(),
		OriginalSize: origInfo.Size(),
		NewSize:      newInfo.Size(),
		SavingsBytes: origInfo.Size() - newInfo.Size(),
		OriginalFile: originalBackup,
		DeleteAfter:  time.Now().UTC().AddDate(0, 0, e.cfg.KeepOriginalDays),
	}
	return writeMarker(swappedPath+markerSuffix, marker)
}

// DeferredDeleteSweep scans every source directory for .transcoded
// markers whose delete_after has passed and removes the paired .original
// and the marker itself, bounded to maxPerSweep deletions so a large
// backlog cannot stall the engine's processing loop.
func (e *Engine) DeferredDeleteSweep(maxPerSweep int) (int, error) {
	removed := 0

	entries, err := os.ReadDir(e.baseDir)
	if err != nil {
		return removed, err
	}

	now := time.Now().UTC()
	for _, dirEntry := range entries {
		if removed >= maxPerSweep {
			break
		}
		if !dirEntry.IsDir() {
			continue
		}
		dir := filepath.Join(e.baseDir, dirEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, f := range files {
			if removed >= maxPerSweep {
				break
			}
			name := f.Name()
			if !strings.HasSuffix(name, markerSuffix) {
				continue
			}

			markerPath := filepath.Join(dir, name)
			marker, err := readMarker(markerPath)
			if err != nil {
				e.logger.Error("failed to read marker during deferred delete sweep", "path", markerPath, "error", err)
				continue
			}
			if now.Before(marker.DeleteAfter) {
				continue
			}

			if err := os.Remove(marker.OriginalFile); err != nil && !os.IsNotExist(err) {
				e.logger.Error("failed to remove expired original", "path", marker.OriginalFile, "error", err)
				continue
			}
			if err := os.Remove(markerPath); err != nil {
				e.logger.Error("failed to remove expired marker", "path", markerPath, "error", err)
				continue
			}
			e.logger.Info("deferred delete reclaimed original", "path", marker.OriginalFile, "savings_bytes", marker.SavingsBytes)
			removed++
		}
	}
	return removed, nil
}
