package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDumpCmdRejectsUnknownFormat(t *testing.T) {
	base := t.TempDir()
	doc := fmt.Sprintf(`
recordings_base_directory = %q

[sources.cam1]
name = "Front door"
device = "/dev/video0"
resolution = "640x480"
framerate = 15
input_codec = "h264"
enabled = true

[transcoder]
schedule_start = "22:00"
schedule_end = "06:00"
`, base)
	cfgPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := configPath
	configPath = cfgPath
	defer func() { configPath = prev }()

	cmd := configDumpCmd()
	if err := cmd.Flags().Set("format", "xml"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := cmd.RunE(cmd, nil); err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}

func TestConfigDumpCmdAcceptsYAML(t *testing.T) {
	base := t.TempDir()
	doc := fmt.Sprintf(`
recordings_base_directory = %q

[sources.cam1]
name = "Front door"
device = "/dev/video0"
resolution = "640x480"
framerate = 15
input_codec = "h264"
enabled = true

[transcoder]
schedule_start = "22:00"
schedule_end = "06:00"
`, base)
	cfgPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := configPath
	configPath = cfgPath
	defer func() { configPath = prev }()

	cmd := configDumpCmd()
	if err := cmd.Flags().Set("format", "yaml"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("RunE: %v", err)
	}
}
