package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// snapshotDoc is the exportable shape of a loaded Config, used by `captured
// config dump` for operators who want to inspect the effective
// configuration (after env/CLI overlay and defaulting) in a format other
// than the TOML it was loaded from.
type snapshotDoc struct {
	RecordingsBaseDirectory string                  `toml:"recordings_base_directory" yaml:"recordings_base_directory"`
	SegmentDurationSeconds  int                     `toml:"segment_duration_seconds" yaml:"segment_duration_seconds"`
	OutputCodec             string                  `toml:"output_codec" yaml:"output_codec"`
	Sources                 map[string]SourceConfig `toml:"sources" yaml:"sources"`
	Storage                 StorageConfig           `toml:"storage" yaml:"storage"`
	Transcoder              TranscoderConfig        `toml:"transcoder" yaml:"transcoder"`
	HTTP                    HTTPConfig              `toml:"http" yaml:"http"`
}

func toSnapshot(cfg *Config) snapshotDoc {
	return snapshotDoc{
		RecordingsBaseDirectory: cfg.RecordingsBaseDirectory,
		SegmentDurationSeconds:  cfg.SegmentDurationSeconds,
		OutputCodec:             cfg.OutputCodec,
		Sources:                 cfg.Sources,
		Storage:                 cfg.Storage,
		Transcoder:              cfg.Transcoder,
		HTTP:                    cfg.HTTP,
	}
}

// Dump renders the effective configuration in the requested format, one of
// "yaml" (default) or "toml".
func Dump(cfg *Config, format string) ([]byte, error) {
	snap := toSnapshot(cfg)

	switch format {
	case "", "yaml":
		return yaml.Marshal(snap)
	case "toml":
		return toml.Marshal(snap)
	default:
		return nil, fmt.Errorf("unsupported dump format %q", format)
	}
}
