// Package config loads and validates the single configuration snapshot read
// once at process startup. The resulting Config is immutable for the life of
// the process; nothing downstream holds a pointer to a mutable document.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/smazurov/captured/internal/logging"
)

// Config is the validated, immutable snapshot handed by reference to every
// component at startup.
type Config struct {
	RecordingsBaseDirectory string `toml:"recordings_base_directory"`
	SegmentDurationSeconds  int    `toml:"segment_duration_seconds"`
	OutputCodec             string `toml:"output_codec"`
	TargetBitrateKbps       int    `toml:"target_bitrate_kbps"`
	MaxBitrateKbps          int    `toml:"max_bitrate_kbps"`

	Sources map[string]SourceConfig `toml:"sources"`

	Storage    StorageConfig    `toml:"storage"`
	Transcoder TranscoderConfig `toml:"transcoder"`
	HTTP       HTTPConfig       `toml:"http"`
	Logging    logging.Config   `toml:"logging"`
}

// SourceConfig describes one capture source. ID and Dir are derived at load
// time, not read from the document directly.
type SourceConfig struct {
	ID         string `toml:"-"`
	Device     string `toml:"device"`
	Name       string `toml:"name"`
	Resolution string `toml:"resolution"`
	Width      int    `toml:"-"`
	Height     int    `toml:"-"`
	FrameRate  int    `toml:"framerate"`
	InputCodec string `toml:"input_codec"`
	Enabled    bool   `toml:"enabled"`
	Dir        string `toml:"-"`
}

// StorageConfig controls age-based and emergency pruning.
type StorageConfig struct {
	CleanupEnabled          bool    `toml:"cleanup_enabled"`
	MaxAgeDays              int     `toml:"max_age_days"`
	EmergencyUsedFraction   float64 `toml:"emergency_used_fraction"`
	EmergencyTargetFraction float64 `toml:"emergency_target_fraction"`
}

// TranscoderConfig controls the background re-encoder engine.
type TranscoderConfig struct {
	Enabled           bool    `toml:"enabled"`
	MinAgeDays        int     `toml:"min_age_days"`
	ScheduleStart     string  `toml:"schedule_start"`
	ScheduleEnd       string  `toml:"schedule_end"`
	MaxCPUPercent     float64 `toml:"max_cpu_percent"`
	MaxIOWait         float64 `toml:"max_io_wait"`
	OutputCodec       string  `toml:"output_codec"`
	Preset            string  `toml:"preset"`
	Quality           int     `toml:"quality"`
	KeepOriginalDays  int     `toml:"keep_original_days"`
	MinFreeGB         int     `toml:"min_free_gb"`
	MinSavingsPercent float64 `toml:"min_savings_percent"`
}

// HTTPConfig controls the control-surface listener.
type HTTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

func defaults() Config {
	return Config{
		SegmentDurationSeconds: 60,
		OutputCodec:            "copy",
		TargetBitrateKbps:      8000,
		MaxBitrateKbps:         12000,
		Storage: StorageConfig{
			CleanupEnabled:          true,
			MaxAgeDays:              30,
			EmergencyUsedFraction:   0.95,
			EmergencyTargetFraction: 0.85,
		},
		Transcoder: TranscoderConfig{
			MinSavingsPercent: 20,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML document at path, overlays environment variables and
// any CLI flags explicitly set on cmd, fills derived fields, and validates
// the result. cmd may be nil when no CLI-flag overlay applies (e.g. tests).
func Load(path string, cmd *cobra.Command) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	applyFlagOverrides(&cfg, cmd)

	for id, src := range cfg.Sources {
		src.ID = id
		w, h, err := parseResolution(src.Resolution)
		if err == nil {
			src.Width, src.Height = w, h
		}
		src.Dir = cfg.RecordingsBaseDirectory + "/" + id
		cfg.Sources[id] = src
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envOverride applies a CAPTURED_<KEY> environment variable to dst if set.
func envOverride(key string, dst *string) {
	if v, ok := os.LookupEnv("CAPTURED_" + key); ok && v != "" {
		*dst = v
	}
}

func envOverrideInt(key string, dst *int) {
	if v, ok := os.LookupEnv("CAPTURED_" + key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOverrideBool(key string, dst *bool) {
	if v, ok := os.LookupEnv("CAPTURED_" + key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// applyEnvOverrides overlays the small subset of fields operators commonly
// override without editing the document: recordings directory, HTTP
// listener, transcoder enable flag, and logging verbosity. This mirrors the
// teacher's VIDEONODE_* precedence layer, renamed to the CAPTURED_* prefix.
func applyEnvOverrides(cfg *Config) {
	envOverride("RECORDINGS_BASE_DIRECTORY", &cfg.RecordingsBaseDirectory)
	envOverride("HTTP_HOST", &cfg.HTTP.Host)
	envOverrideInt("HTTP_PORT", &cfg.HTTP.Port)
	envOverrideBool("TRANSCODER_ENABLED", &cfg.Transcoder.Enabled)
	envOverride("LOG_LEVEL", &cfg.Logging.Level)
	envOverride("LOG_FORMAT", &cfg.Logging.Format)
}

// applyFlagOverrides overlays CLI flags explicitly set on cmd. CLI flags
// take precedence over both the environment and the TOML document, matching
// the teacher's LoadConfig precedence rule.
func applyFlagOverrides(cfg *Config, cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	flags := cmd.Flags()

	if flags.Changed("recordings-dir") {
		if v, err := flags.GetString("recordings-dir"); err == nil {
			cfg.RecordingsBaseDirectory = v
		}
	}
	if flags.Changed("http-host") {
		if v, err := flags.GetString("http-host"); err == nil {
			cfg.HTTP.Host = v
		}
	}
	if flags.Changed("http-port") {
		if v, err := flags.GetInt("http-port"); err == nil {
			cfg.HTTP.Port = v
		}
	}
	if flags.Changed("log-level") {
		if v, err := flags.GetString("log-level"); err == nil {
			cfg.Logging.Level = v
		}
	}
}

// parseResolution parses a "WxH" string into positive width and height.
func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("resolution %q is not of the form WxH", res)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid width: %w", res, err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid height: %w", res, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: width and height must be positive", res)
	}
	return w, h, nil
}
