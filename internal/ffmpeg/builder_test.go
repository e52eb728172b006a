package ffmpeg

import (
	"testing"

	"github.com/smazurov/captured/internal/config"
)

func testSource() config.SourceConfig {
	return config.SourceConfig{
		ID:         "front_door",
		Device:     "/dev/video0",
		Resolution: "1920x1080",
		Width:      1920,
		Height:     1080,
		FrameRate:  15,
		InputCodec: "h264",
		Dir:        "/recordings/front_door",
	}
}

func TestCaptureArgsStreamCopy(t *testing.T) {
	cfg := &config.Config{OutputCodec: "copy", SegmentDurationSeconds: 60}
	args := CaptureArgs("ffmpeg", cfg, testSource())

	want := []string{"-c:v", "copy"}
	if !containsSeq(args, want) {
		t.Errorf("stream-copy args missing %v: %v", want, args)
	}
	if containsSeq(args, []string{"-preset"}) {
		t.Errorf("stream-copy args should not include an encoder preset: %v", args)
	}
	if args[0] != "ffmpeg" {
		t.Errorf("args[0] = %q, want the binary path", args[0])
	}
}

func TestCaptureArgsH264InputTranscode(t *testing.T) {
	cfg := &config.Config{OutputCodec: "h265-target", SegmentDurationSeconds: 30, TargetBitrateKbps: 8000, MaxBitrateKbps: 12000}
	src := testSource()
	src.InputCodec = "h264"

	args := CaptureArgs("ffmpeg", cfg, src)

	if !containsSeq(args, []string{"-input_format", "h264"}) {
		t.Errorf("h264-input-transcode args should include -input_format h264: %v", args)
	}
	if !containsSeq(args, []string{"-c:v", "hevc_vaapi"}) {
		t.Errorf("expected hevc_vaapi encoder for h265-target: %v", args)
	}
	if !containsSeq(args, []string{"-b:v", "8000k"}) {
		t.Errorf("expected -b:v 8000k: %v", args)
	}
	if !containsSeq(args, []string{"-maxrate", "12000k"}) {
		t.Errorf("expected -maxrate 12000k: %v", args)
	}
}

func TestCaptureArgsRawInputTranscodeDropsInputFormat(t *testing.T) {
	cfg := &config.Config{OutputCodec: "h264-target", SegmentDurationSeconds: 30, TargetBitrateKbps: 6000, MaxBitrateKbps: 9000}
	src := testSource()
	src.InputCodec = "raw"

	args := CaptureArgs("ffmpeg", cfg, src)

	for i, a := range args {
		if a == "-input_format" {
			t.Fatalf("raw-input-transcode args should drop -input_format, found at index %d: %v", i, args)
		}
	}
	if !containsSeq(args, []string{"-c:v", "h264_vaapi"}) {
		t.Errorf("expected h264_vaapi encoder: %v", args)
	}
	if !containsSeq(args, []string{"-b:v", "6000k"}) {
		t.Errorf("expected -b:v 6000k: %v", args)
	}
	if !containsSeq(args, []string{"-maxrate", "9000k"}) {
		t.Errorf("expected -maxrate 9000k: %v", args)
	}
}

func TestCaptureArgsOutputPatternMatchesGrammar(t *testing.T) {
	cfg := &config.Config{OutputCodec: "copy", SegmentDurationSeconds: 60}
	args := CaptureArgs("ffmpeg", cfg, testSource())

	last := args[len(args)-1]
	want := "/recordings/front_door/front_door_%Y%m%d_%H%M%S.mp4"
	if last != want {
		t.Errorf("output pattern = %q, want %q", last, want)
	}
}

func TestTranscodeArgsUsesTargetCodec(t *testing.T) {
	tc := &config.TranscoderConfig{OutputCodec: "h265-target", Preset: "medium", Quality: 28}
	args := TranscodeArgs("ffmpeg", tc, "/r/a.mp4", "/r/a.mp4.transcoding")

	if !containsSeq(args, []string{"-c:v", "hevc_vaapi"}) {
		t.Errorf("expected hevc_vaapi in transcode args: %v", args)
	}
	if args[len(args)-1] != "/r/a.mp4.transcoding" {
		t.Errorf("output path = %q, want the .transcoding temp", args[len(args)-1])
	}
}

func containsSeq(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{
		"30/1":  30,
		"30000/1001": 29.97002997002997,
		"25":    25,
		"0/0":   0,
	}
	for raw, want := range cases {
		got := parseFrameRate(raw)
		if diff := got - want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("parseFrameRate(%q) = %v, want %v", raw, got, want)
		}
	}
}

