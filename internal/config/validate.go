package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/smazurov/captured/internal/apperrors"
)

var filenameSafe = func() map[rune]bool {
	allowed := make(map[rune]bool)
	for _, r := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-" {
		allowed[r] = true
	}
	return allowed
}()

// Validate checks every rule in the configuration model against cfg,
// returning the first violation found as *apperrors.ConfigInvalid.
func Validate(cfg *Config) error {
	if cfg.RecordingsBaseDirectory == "" {
		return &apperrors.ConfigInvalid{Field: "recordings_base_directory", Reason: "must be set"}
	}
	if !filepath.IsAbs(cfg.RecordingsBaseDirectory) {
		return &apperrors.ConfigInvalid{Field: "recordings_base_directory", Reason: "must be an absolute path"}
	}
	if err := checkWritable(cfg.RecordingsBaseDirectory); err != nil {
		return &apperrors.ConfigInvalid{Field: "recordings_base_directory", Reason: err.Error()}
	}

	if cfg.SegmentDurationSeconds < 10 {
		return &apperrors.ConfigInvalid{Field: "segment_duration_seconds", Reason: "must be >= 10"}
	}

	switch cfg.OutputCodec {
	case "copy", "h264-target", "h265-target":
	default:
		return &apperrors.ConfigInvalid{Field: "output_codec", Reason: "must be one of copy, h264-target, h265-target"}
	}

	if cfg.TargetBitrateKbps <= 0 {
		return &apperrors.ConfigInvalid{Field: "target_bitrate_kbps", Reason: "must be > 0"}
	}
	if cfg.MaxBitrateKbps < cfg.TargetBitrateKbps {
		return &apperrors.ConfigInvalid{Field: "max_bitrate_kbps", Reason: "must be >= target_bitrate_kbps"}
	}

	if len(cfg.Sources) == 0 {
		return &apperrors.ConfigInvalid{Field: "sources", Reason: "at least one source must be configured"}
	}

	anyEnabled := false
	seen := make(map[string]bool, len(cfg.Sources))
	for id, src := range cfg.Sources {
		if id == "" {
			return &apperrors.ConfigInvalid{Field: "sources", Reason: "source id must not be empty"}
		}
		if seen[id] {
			return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s", id), Reason: "duplicate source id"}
		}
		seen[id] = true

		for _, r := range id {
			if !filenameSafe[r] {
				return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s", id), Reason: "id contains characters unsafe for filenames"}
			}
		}

		if src.Width <= 0 || src.Height <= 0 {
			return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s.resolution", id), Reason: "must parse as WxH with positive integers"}
		}
		if src.FrameRate < 1 {
			return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s.framerate", id), Reason: "must be >= 1"}
		}
		switch src.InputCodec {
		case "h264", "mjpeg", "raw":
		default:
			return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s.input_codec", id), Reason: "must be one of h264, mjpeg, raw"}
		}
		if src.Device == "" {
			return &apperrors.ConfigInvalid{Field: fmt.Sprintf("sources.%s.device", id), Reason: "must be set"}
		}

		if src.Enabled {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return &apperrors.ConfigInvalid{Field: "sources", Reason: "at least one source must have enabled = true"}
	}

	if cfg.Storage.MaxAgeDays < 1 {
		return &apperrors.ConfigInvalid{Field: "storage.max_age_days", Reason: "must be >= 1"}
	}
	if cfg.Storage.EmergencyUsedFraction < 0 || cfg.Storage.EmergencyUsedFraction > 1 {
		return &apperrors.ConfigInvalid{Field: "storage.emergency_used_fraction", Reason: "must be between 0 and 1"}
	}
	if cfg.Storage.EmergencyTargetFraction < 0 || cfg.Storage.EmergencyTargetFraction > 1 {
		return &apperrors.ConfigInvalid{Field: "storage.emergency_target_fraction", Reason: "must be between 0 and 1"}
	}

	if err := validateTranscoder(&cfg.Transcoder); err != nil {
		return err
	}

	return nil
}

func validateTranscoder(t *TranscoderConfig) error {
	if t.MinAgeDays < 0 {
		return &apperrors.ConfigInvalid{Field: "transcoder.min_age_days", Reason: "must be >= 0"}
	}

	startMin, err := parseHHMM(t.ScheduleStart)
	if err != nil {
		return &apperrors.ConfigInvalid{Field: "transcoder.schedule_start", Reason: err.Error()}
	}
	endMin, err := parseHHMM(t.ScheduleEnd)
	if err != nil {
		return &apperrors.ConfigInvalid{Field: "transcoder.schedule_end", Reason: err.Error()}
	}
	if startMin == endMin {
		return &apperrors.ConfigInvalid{Field: "transcoder.schedule_start", Reason: "schedule_start must differ from schedule_end"}
	}

	if t.MaxCPUPercent < 0 || t.MaxCPUPercent > 100 {
		return &apperrors.ConfigInvalid{Field: "transcoder.max_cpu_percent", Reason: "must be between 0 and 100"}
	}
	if t.MaxIOWait < 0 || t.MaxIOWait > 100 {
		return &apperrors.ConfigInvalid{Field: "transcoder.max_io_wait", Reason: "must be between 0 and 100"}
	}
	if t.Quality < 0 || t.Quality > 51 {
		return &apperrors.ConfigInvalid{Field: "transcoder.quality", Reason: "must be between 0 and 51"}
	}
	if t.KeepOriginalDays < 0 {
		return &apperrors.ConfigInvalid{Field: "transcoder.keep_original_days", Reason: "must be >= 0"}
	}
	if t.MinFreeGB < 0 {
		return &apperrors.ConfigInvalid{Field: "transcoder.min_free_gb", Reason: "must be >= 0"}
	}
	if t.MinSavingsPercent < 0 || t.MinSavingsPercent > 100 {
		return &apperrors.ConfigInvalid{Field: "transcoder.min_savings_percent", Reason: "must be between 0 and 100"}
	}

	return nil
}

// parseHHMM parses a "HH:MM" wall-clock value into minutes since midnight.
func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("must be of the form HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("hour must be between 00 and 23")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("minute must be between 00 and 59")
	}
	return h*60 + m, nil
}

// checkWritable verifies that dir exists (or can be created) and is
// writable, without creating anything below the top level.
func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("cannot create base directory: %w", mkErr)
		}
	} else if err != nil {
		return fmt.Errorf("cannot stat base directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".write_test")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
