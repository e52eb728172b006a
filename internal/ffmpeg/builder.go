// Package ffmpeg builds argument vectors for the capture and re-encode
// child processes and wraps the small amount of ffmpeg/ffprobe invocation
// needed to discover a usable binary and probe a finished segment.
package ffmpeg

import (
	"fmt"

	"github.com/smazurov/captured/internal/config"
)

const (
	defaultPreset  = "medium"
	defaultQuality = 23
	defaultGOP     = 60
	defaultRefs    = 2
)

// CaptureArgs builds the argument vector for a capture child recording
// source src under cfg. The concrete shape is chosen from three templates:
// stream-copy when the global output codec is "copy", h264-input-transcode
// when the source's input is already h264 or mjpeg, and
// raw-input-transcode (which drops -input_format) when the source feeds
// raw frames.
func CaptureArgs(bin string, cfg *config.Config, src config.SourceConfig) []string {
	outputPattern := fmt.Sprintf("%s/%s_%%Y%%m%%d_%%H%%M%%S.mp4", src.Dir, src.ID)

	if cfg.OutputCodec == "copy" {
		return streamCopyArgs(bin, src, outputPattern, cfg.SegmentDurationSeconds)
	}
	if src.InputCodec == "raw" {
		return rawInputTranscodeArgs(bin, cfg, src, outputPattern)
	}
	return h264InputTranscodeArgs(bin, cfg, src, outputPattern)
}

func streamCopyArgs(bin string, src config.SourceConfig, outputPattern string, segmentSeconds int) []string {
	args := []string{
		bin,
		"-f", "v4l2",
		"-input_format", src.InputCodec,
		"-video_size", fmt.Sprintf("%dx%d", src.Width, src.Height),
		"-framerate", fmt.Sprintf("%d", src.FrameRate),
		"-i", src.Device,
		"-c:v", "copy",
	}
	return append(args, segmentOutputArgs(outputPattern, segmentSeconds)...)
}

func h264InputTranscodeArgs(bin string, cfg *config.Config, src config.SourceConfig, outputPattern string) []string {
	args := []string{
		bin,
		"-f", "v4l2",
		"-input_format", src.InputCodec,
		"-video_size", fmt.Sprintf("%dx%d", src.Width, src.Height),
		"-framerate", fmt.Sprintf("%d", src.FrameRate),
		"-i", src.Device,
	}
	args = append(args, targetEncoderArgs(cfg.OutputCodec, defaultPreset, defaultQuality, cfg.TargetBitrateKbps, cfg.MaxBitrateKbps, defaultGOP, defaultRefs)...)
	return append(args, segmentOutputArgs(outputPattern, cfg.SegmentDurationSeconds)...)
}

func rawInputTranscodeArgs(bin string, cfg *config.Config, src config.SourceConfig, outputPattern string) []string {
	args := []string{
		bin,
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", src.Width, src.Height),
		"-framerate", fmt.Sprintf("%d", src.FrameRate),
		"-i", src.Device,
	}
	args = append(args, targetEncoderArgs(cfg.OutputCodec, defaultPreset, defaultQuality, cfg.TargetBitrateKbps, cfg.MaxBitrateKbps, defaultGOP, defaultRefs)...)
	return append(args, segmentOutputArgs(outputPattern, cfg.SegmentDurationSeconds)...)
}

func segmentOutputArgs(outputPattern string, segmentSeconds int) []string {
	return []string{
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", segmentSeconds),
		"-segment_format", "mp4",
		"-reset_timestamps", "1",
		"-strftime", "1",
		outputPattern,
	}
}

// targetEncoderArgs returns the codec-specific encoder arguments shared by
// the capture adapter's transcode templates: bitrate-capped VAAPI hardware
// encoding with a fixed GOP. targetKbps/maxKbps come straight from the
// configured target_bitrate_kbps/max_bitrate_kbps (VBR with a rate cap).
func targetEncoderArgs(outputCodec, preset string, quality, targetKbps, maxKbps, gop, refs int) []string {
	return []string{
		"-c:v", targetEncoder(outputCodec),
		"-preset", preset,
		"-global_quality", fmt.Sprintf("%d", quality),
		"-b:v", fmt.Sprintf("%dk", targetKbps),
		"-maxrate", fmt.Sprintf("%dk", maxKbps),
		"-g", fmt.Sprintf("%d", gop),
		"-refs", fmt.Sprintf("%d", refs),
		"-bf", "3",
	}
}

func targetEncoder(outputCodec string) string {
	switch outputCodec {
	case "h265-target":
		return "hevc_vaapi"
	default:
		return "h264_vaapi"
	}
}

// TranscodeArgs builds the argument vector for a re-encode child that reads
// inputPath and writes the transcoded temp to outputPath, per the
// transcoder's configured preset/quality.
func TranscodeArgs(bin string, t *config.TranscoderConfig, inputPath, outputPath string) []string {
	return []string{
		bin,
		"-hwaccel", "vaapi",
		"-hwaccel_output_format", "vaapi",
		"-i", inputPath,
		"-c:v", targetEncoder(t.OutputCodec),
		"-preset", t.Preset,
		"-qp", fmt.Sprintf("%d", t.Quality),
		"-c:a", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		outputPath,
	}
}
