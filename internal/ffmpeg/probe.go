package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// MediaInfo is the subset of an ffprobe report the re-encoder needs to
// compare a transcoded temp against its original.
type MediaInfo struct {
	CodecName string
	Width     int
	Height    int
	FrameRate float64
	DurationS float64
}

type probeStream struct {
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	CodecType  string `json:"codec_type"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// Probe runs ffprobe against path and returns the first video stream's
// codec, resolution, frame rate, and the container duration.
func Probe(ctx context.Context, probeBin, path string) (MediaInfo, error) {
	if probeBin == "" {
		probeBin = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, probeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,codec_type",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: no video stream", path)
	}

	s := parsed.Streams[0]
	info := MediaInfo{
		CodecName: s.CodecName,
		Width:     s.Width,
		Height:    s.Height,
		FrameRate: parseFrameRate(s.RFrameRate),
	}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.DurationS = d
	}
	return info, nil
}

func parseFrameRate(raw string) float64 {
	var num, den float64
	if n, err := fmt.Sscanf(raw, "%f/%f", &num, &den); err == nil && n == 2 && den != 0 {
		return num / den
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return 0
}

// VerifyIntegrity runs a null-output decode pass and reports whether ffmpeg
// produced any stream errors, mirroring a full-file integrity check without
// writing any output.
func VerifyIntegrity(ctx context.Context, ffmpegBin, path string) error {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegBin, "-v", "error", "-i", path, "-f", "null", "-")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", path, err)
	}
	if len(out) > 0 {
		return fmt.Errorf("integrity check for %s reported stream errors: %s", path, out)
	}
	return nil
}
