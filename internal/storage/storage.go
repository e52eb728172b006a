// Package storage enumerates recorded segments under the recordings base
// directory, reports filesystem usage, and prunes old or excess segments.
// It never touches a file that an in-progress re-encode has staged (a
// ".transcoding" companion present) or that is the most recent segment of
// its source.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

const (
	segmentExt            = ".mp4"
	transcodingSuffix     = ".transcoding"
	originalSuffix        = ".original"
	transcodedSuffix      = ".transcoded"
	emergencyPruneMaxFiles = 1000
)

var segmentNamePattern = regexp.MustCompile(`^(.+)_(\d{8})_(\d{6})\.mp4$`)

// Segment is a finished or in-progress container file in a source
// directory, identified by filename and filesystem metadata.
type Segment struct {
	SourceID    string
	Path        string
	Filename    string
	RecordedAt  time.Time
	ModTime     time.Time
	Size        int64
}

// Usage is a filesystem-level snapshot of the recordings volume.
type Usage struct {
	TotalBytes   uint64
	FreeBytes    uint64
	UsedFraction float64
}

// PruneResult reports the outcome of a prune_by_age or emergency_prune
// invocation.
type PruneResult struct {
	RemovedCount int
	FreedBytes   int64
	DryRun       bool
}

// Manager scans and prunes the recordings tree rooted at baseDir. A
// sourceDir(id) function derives each source's segment directory the same
// way config derives it, so storage never needs a live Config pointer.
type Manager struct {
	baseDir   string
	sourceDir func(id string) string
}

// New builds a Manager rooted at baseDir. sourceDir maps a source
// identifier to its segment directory (base directory joined with id).
func New(baseDir string, sourceDir func(id string) string) *Manager {
	return &Manager{baseDir: baseDir, sourceDir: sourceDir}
}

// ParseSegmentName extracts the source id and recording start time encoded
// in a segment filename of the form <source_id>_YYYYMMDD_HHMMSS.mp4. The
// second return value is false if name does not match the grammar.
func ParseSegmentName(name string) (sourceID string, recordedAt time.Time, ok bool) {
	m := segmentNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102_150405", m[2]+"_"+m[3], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return m[1], t, true
}

// Scan lists segment files across every source directory (or just
// sourceID's, when non-empty), ignoring files that do not match the
// segment name grammar and ignoring .transcoding/.transcoded/.original
// auxiliaries.
func (m *Manager) Scan(sourceID string) ([]Segment, error) {
	var dirs []string
	if sourceID != "" {
		dirs = []string{m.sourceDir(sourceID)}
	} else {
		entries, err := os.ReadDir(m.baseDir)
		if err != nil {
			return nil, fmt.Errorf("read recordings base directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(m.baseDir, e.Name()))
			}
		}
	}

	var segments []Segment
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read source directory %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			id, recordedAt, ok := ParseSegmentName(e.Name())
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			segments = append(segments, Segment{
				SourceID:   id,
				Path:       filepath.Join(dir, e.Name()),
				Filename:   e.Name(),
				RecordedAt: recordedAt,
				ModTime:    info.ModTime(),
				Size:       info.Size(),
			})
		}
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].ModTime.Before(segments[j].ModTime) })
	return segments, nil
}

// Usage queries filesystem-level disk usage for the recordings base
// directory.
func (m *Manager) Usage() (Usage, error) {
	u, err := disk.Usage(m.baseDir)
	if err != nil {
		return Usage{}, fmt.Errorf("disk usage: %w", err)
	}
	return Usage{
		TotalBytes:   u.Total,
		FreeBytes:    u.Free,
		UsedFraction: u.UsedPercent / 100,
	}, nil
}

// PruneByAge removes segment files whose modification time is older than
// now - maxAge, honoring the never-delete-most-recent and
// never-delete-with-transcoding-companion safety rules. When dryRun, no
// file is removed and the result reports what would have been.
func (m *Manager) PruneByAge(maxAge time.Duration, dryRun bool) (PruneResult, error) {
	segments, err := m.Scan("")
	if err != nil {
		return PruneResult{}, err
	}
	cutoff := time.Now().Add(-maxAge)
	mostRecent := mostRecentPerSource(segments)

	result := PruneResult{DryRun: dryRun}
	for _, seg := range segments {
		if !seg.ModTime.Before(cutoff) {
			continue
		}
		if seg.Path == mostRecent[seg.SourceID] {
			continue
		}
		if hasTranscodingCompanion(seg.Path) {
			continue
		}
		if !dryRun {
			if err := os.Remove(seg.Path); err != nil {
				continue
			}
		}
		result.RemovedCount++
		result.FreedBytes += seg.Size
	}
	return result, nil
}

// EmergencyPrune deletes the oldest segments across every source, strictly
// by modification time with lexical path as a tiebreaker, until used
// fraction falls to targetFraction or the bounded per-invocation file
// limit is hit.
func (m *Manager) EmergencyPrune(targetFraction float64) (PruneResult, error) {
	segments, err := m.Scan("")
	if err != nil {
		return PruneResult{}, err
	}
	mostRecent := mostRecentPerSource(segments)

	sort.Slice(segments, func(i, j int) bool {
		if !segments[i].ModTime.Equal(segments[j].ModTime) {
			return segments[i].ModTime.Before(segments[j].ModTime)
		}
		return segments[i].Path < segments[j].Path
	})

	var result PruneResult
	for _, seg := range segments {
		if result.RemovedCount >= emergencyPruneMaxFiles {
			break
		}
		usage, err := m.Usage()
		if err == nil && usage.UsedFraction <= targetFraction {
			break
		}
		if seg.Path == mostRecent[seg.SourceID] {
			continue
		}
		if hasTranscodingCompanion(seg.Path) {
			continue
		}
		if err := os.Remove(seg.Path); err != nil {
			continue
		}
		result.RemovedCount++
		result.FreedBytes += seg.Size
	}
	return result, nil
}

// SourceUsage is one source's share of the recordings tree: file count,
// total bytes, and its most recently written segment.
type SourceUsage struct {
	FileCount  int
	TotalBytes int64
	LatestFile string
	LatestAt   time.Time
}

// PerSourceBreakdown groups a full scan by source id, for the
// storage-usage route's per-source totals.
func (m *Manager) PerSourceBreakdown() (map[string]SourceUsage, error) {
	segments, err := m.Scan("")
	if err != nil {
		return nil, err
	}
	out := make(map[string]SourceUsage)
	for _, seg := range segments {
		u := out[seg.SourceID]
		u.FileCount++
		u.TotalBytes += seg.Size
		if seg.ModTime.After(u.LatestAt) {
			u.LatestAt = seg.ModTime
			u.LatestFile = seg.Filename
		}
		out[seg.SourceID] = u
	}
	return out, nil
}

func mostRecentPerSource(segments []Segment) map[string]string {
	latest := make(map[string]time.Time)
	path := make(map[string]string)
	for _, seg := range segments {
		if t, ok := latest[seg.SourceID]; !ok || seg.ModTime.After(t) || (seg.ModTime.Equal(t) && seg.Path > path[seg.SourceID]) {
			latest[seg.SourceID] = seg.ModTime
			path[seg.SourceID] = seg.Path
		}
	}
	return path
}

func hasTranscodingCompanion(segmentPath string) bool {
	_, err := os.Stat(segmentPath + transcodingSuffix)
	return err == nil
}
