// Package transcode implements the background re-encoder: it scans the
// recordings tree for old large-codec segments, re-encodes them to the
// configured target codec without disturbing live capture, verifies the
// result, and swaps it in atomically.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/ffmpeg"
	"github.com/smazurov/captured/internal/storage"
)

const (
	verifiedSizeFloorBytes = 1024
	durationToleranceS     = 1.0
	frameRateToleranceHz   = 1.0
)

// Candidate is an Untouched segment eligible for re-encoding.
type Candidate struct {
	Path     string
	SourceID string
	Size     int64
	ModTime  time.Time
}

// CandidateCounts are the aggregate scan counters spec.md §4.7 requires
// logging after every candidate scan.
type CandidateCounts struct {
	Scanned            int
	TooNew             int
	AlreadyTranscoded  int
	InProgress         int
	WrongCodec         int
	Eligible           int
}

// ScanCandidates walks every source directory under baseDir and returns
// segments eligible for re-encoding: matching the segment name grammar,
// at least minAge old, with no .transcoded marker or .transcoding temp
// beside them, and whose probed codec is not already targetCodec.
// Candidates are returned oldest first.
func ScanCandidates(ctx context.Context, baseDir, probeBin, targetCodec string, minAge time.Duration) ([]Candidate, CandidateCounts, error) {
	var counts CandidateCounts
	var candidates []Candidate

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, counts, fmt.Errorf("read recordings base directory: %w", err)
	}

	cutoff := time.Now().Add(-minAge)
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, dirEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			sourceID, _, ok := storage.ParseSegmentName(f.Name())
			if !ok {
				continue
			}
			counts.Scanned++
			path := filepath.Join(dir, f.Name())
			info, err := f.Info()
			if err != nil {
				continue
			}

			if info.ModTime().After(cutoff) {
				counts.TooNew++
				continue
			}
			if _, err := os.Stat(path + markerSuffix); err == nil {
				counts.AlreadyTranscoded++
				continue
			}
			if _, err := os.Stat(path + transcodingSuffix); err == nil {
				counts.InProgress++
				continue
			}

			mediaInfo, err := ffmpeg.Probe(ctx, probeBin, path)
			if err != nil || mediaInfo.CodecName == targetCodec {
				counts.WrongCodec++
				continue
			}

			counts.Eligible++
			candidates = append(candidates, Candidate{
				Path:     path,
				SourceID: sourceID,
				Size:     info.Size(),
				ModTime:  info.ModTime(),
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ModTime.Before(candidates[j].ModTime) })
	return candidates, counts, nil
}

const (
	originalSuffix    = ".original"
	markerSuffix      = ".transcoded"
	transcodingSuffix = ".transcoding"
)

// targetCodecName maps the config's output-codec selector to the ffprobe
// codec name that a file already in the target codec reports.
func targetCodecName(outputCodec string) string {
	switch outputCodec {
	case "h265-target":
		return "hevc"
	default:
		return "h264"
	}
}

// verify runs the full post-transcode verification pass from spec.md
// §4.7. All checks must pass; the first failure is returned as
// *apperrors.VerificationFailed.
func verify(ctx context.Context, probeBin, ffmpegBin string, original MediaPair, minSavingsPercent float64) error {
	tempInfo, err := os.Stat(original.TempPath)
	if err != nil || tempInfo.Size() < verifiedSizeFloorBytes {
		return &apperrors.VerificationFailed{Reason: "temp output missing or below size floor"}
	}

	origProbe, err := ffmpeg.Probe(ctx, probeBin, original.Path)
	if err != nil {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("probe original: %v", err)}
	}
	tempProbe, err := ffmpeg.Probe(ctx, probeBin, original.TempPath)
	if err != nil {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("probe temp: %v", err)}
	}

	if diff := origProbe.DurationS - tempProbe.DurationS; diff > durationToleranceS || diff < -durationToleranceS {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("duration mismatch: %.2fs vs %.2fs", origProbe.DurationS, tempProbe.DurationS)}
	}
	if origProbe.Width != tempProbe.Width || origProbe.Height != tempProbe.Height {
		return &apperrors.VerificationFailed{Reason: "resolution mismatch"}
	}
	if diff := origProbe.FrameRate - tempProbe.FrameRate; diff > frameRateToleranceHz || diff < -frameRateToleranceHz {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("frame rate mismatch: %.2f vs %.2f", origProbe.FrameRate, tempProbe.FrameRate)}
	}

	if err := ffmpeg.VerifyIntegrity(ctx, ffmpegBin, original.TempPath); err != nil {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("integrity check failed: %v", err)}
	}

	origSize, err := fileSize(original.Path)
	if err != nil {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("stat original: %v", err)}
	}
	savingsPercent := (float64(origSize-tempInfo.Size()) / float64(origSize)) * 100
	if savingsPercent < minSavingsPercent {
		return &apperrors.VerificationFailed{Reason: fmt.Sprintf("insufficient savings: %.1f%%", savingsPercent)}
	}

	return nil
}

// MediaPair names the original segment and its .transcoding temp.
type MediaPair struct {
	Path     string
	TempPath string
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// swap performs the atomic three-step replacement from spec.md §4.7:
// rename the original aside, rename the verified temp into place, then
// write the .transcoded marker atomically.
func swap(pair MediaPair, keepOriginalDays int) (Marker, error) {
	origSize, err := fileSize(pair.Path)
	if err != nil {
		return Marker{}, fmt.Errorf("stat original before swap: %w", err)
	}
	tempSize, err := fileSize(pair.TempPath)
	if err != nil {
		return Marker{}, fmt.Errorf("stat temp before swap: %w", err)
	}

	originalBackup := pair.Path + originalSuffix
	if err := os.Rename(pair.Path, originalBackup); err != nil {
		return Marker{}, fmt.Errorf("rename original aside: %w", err)
	}
	if err := os.Rename(pair.TempPath, pair.Path); err != nil {
		_ = os.Rename(originalBackup, pair.Path)
		return Marker{}, fmt.Errorf("rename temp into place: %w", err)
	}

	marker := Marker{
		TranscodedAt: time.Now().UTC(),
		OriginalSize: origSize,
		NewSize:      tempSize,
		SavingsBytes: origSize - tempSize,
		OriginalFile: originalBackup,
		DeleteAfter:  time.Now().UTC().AddDate(0, 0, keepOriginalDays),
	}
	markerPath := pair.Path + markerSuffix
	if err := writeMarker(markerPath, marker); err != nil {
		return Marker{}, fmt.Errorf("write marker: %w", err)
	}
	return marker, nil
}

// outputCodecTargetName applies targetCodecName to cfg, for the engine's
// candidate filter.
func outputCodecTargetName(cfg *config.TranscoderConfig) string {
	return targetCodecName(cfg.OutputCodec)
}

// isTranscodingAuxiliary reports whether name is one of the re-encoder's
// sidecar extensions, not a segment in its own right.
func isTranscodingAuxiliary(name string) bool {
	return strings.HasSuffix(name, originalSuffix) || strings.HasSuffix(name, markerSuffix) || strings.HasSuffix(name, transcodingSuffix)
}
