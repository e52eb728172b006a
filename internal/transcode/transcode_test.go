package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeBin writes an executable shell script to dir/name and returns
// its path, mirroring internal/supervisor's sh-script fakes so tests never
// depend on a real ffmpeg/ffprobe installation.
func writeFakeBin(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func writeSegmentFile(t *testing.T, path string, mtime time.Time, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func fakeProbeReportingCodec(t *testing.T, dir, codec string) string {
	t.Helper()
	return writeFakeBin(t, dir, "ffprobe", `cat <<'JSON'
{"streams":[{"codec_name":"`+codec+`","width":1920,"height":1080,"r_frame_rate":"30/1","codec_type":"video"}],"format":{"duration":"10.0"}}
JSON`)
}

func TestScanCandidatesFiltersAndOrdersOldestFirst(t *testing.T) {
	base := t.TempDir()
	camDir := filepath.Join(base, "cam1")
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	older := time.Now().Add(-72 * time.Hour)
	tooNew := time.Now().Add(-time.Minute)

	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260101_010000.mp4"), older, 4096)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260102_010000.mp4"), old, 4096)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260805_235900.mp4"), tooNew, 4096)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260103_010000.mp4"), old, 4096)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260103_010000.mp4.transcoded"), old, 16)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260104_010000.mp4"), old, 4096)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260104_010000.mp4.transcoding"), old, 16)

	probeBin := fakeProbeReportingCodec(t, t.TempDir(), "h264")

	candidates, counts, err := ScanCandidates(context.Background(), base, probeBin, "hevc", 24*time.Hour)
	if err != nil {
		t.Fatalf("ScanCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2: %+v", len(candidates), candidates)
	}
	if candidates[0].ModTime.After(candidates[1].ModTime) {
		t.Error("candidates not returned oldest first")
	}
	if counts.TooNew != 1 {
		t.Errorf("TooNew = %d, want 1", counts.TooNew)
	}
	if counts.AlreadyTranscoded != 1 {
		t.Errorf("AlreadyTranscoded = %d, want 1", counts.AlreadyTranscoded)
	}
	if counts.InProgress != 1 {
		t.Errorf("InProgress = %d, want 1", counts.InProgress)
	}
	if counts.Eligible != 2 {
		t.Errorf("Eligible = %d, want 2", counts.Eligible)
	}
}

func TestScanCandidatesSkipsFilesAlreadyAtTargetCodec(t *testing.T) {
	base := t.TempDir()
	camDir := filepath.Join(base, "cam1")
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	writeSegmentFile(t, filepath.Join(camDir, "cam1_20260101_010000.mp4"), old, 4096)

	probeBin := fakeProbeReportingCodec(t, t.TempDir(), "hevc")

	candidates, counts, err := ScanCandidates(context.Background(), base, probeBin, "hevc", 24*time.Hour)
	if err != nil {
		t.Fatalf("ScanCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates = %d, want 0", len(candidates))
	}
	if counts.WrongCodec != 1 {
		t.Errorf("WrongCodec = %d, want 1", counts.WrongCodec)
	}
}

func TestVerifyPassesOnMatchingProbeAndSufficientSavings(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "cam1_20260101_010000.mp4")
	temp := original + transcodingSuffix

	writeSegmentFile(t, original, time.Now(), 100_000)
	writeSegmentFile(t, temp, time.Now(), 40_000)

	toolDir := t.TempDir()
	probeBin := fakeProbeReportingCodec(t, toolDir, "hevc")
	ffmpegBin := writeFakeBin(t, toolDir, "ffmpeg", "exit 0")

	pair := MediaPair{Path: original, TempPath: temp}
	if err := verify(context.Background(), probeBin, ffmpegBin, pair, 20); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyFailsBelowSavingsThreshold(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "cam1_20260101_010000.mp4")
	temp := original + transcodingSuffix

	writeSegmentFile(t, original, time.Now(), 100_000)
	writeSegmentFile(t, temp, time.Now(), 95_000)

	toolDir := t.TempDir()
	probeBin := fakeProbeReportingCodec(t, toolDir, "hevc")
	ffmpegBin := writeFakeBin(t, toolDir, "ffmpeg", "exit 0")

	pair := MediaPair{Path: original, TempPath: temp}
	if err := verify(context.Background(), probeBin, ffmpegBin, pair, 20); err == nil {
		t.Fatal("expected verification failure on insufficient savings")
	}
}

func TestVerifyFailsWhenTempBelowSizeFloor(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "cam1_20260101_010000.mp4")
	temp := original + transcodingSuffix

	writeSegmentFile(t, original, time.Now(), 100_000)
	writeSegmentFile(t, temp, time.Now(), 10)

	pair := MediaPair{Path: original, TempPath: temp}
	if err := verify(context.Background(), "ffprobe", "ffmpeg", pair, 20); err == nil {
		t.Fatal("expected verification failure below size floor")
	}
}

func TestSwapRenamesAndWritesMarker(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "cam1_20260101_010000.mp4")
	temp := original + transcodingSuffix

	writeSegmentFile(t, original, time.Now(), 100_000)
	writeSegmentFile(t, temp, time.Now(), 40_000)

	pair := MediaPair{Path: original, TempPath: temp}
	marker, err := swap(pair, 7)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	if marker.OriginalSize != 100_000 || marker.NewSize != 40_000 {
		t.Errorf("marker sizes = %d/%d, want 100000/40000", marker.OriginalSize, marker.NewSize)
	}
	if _, err := os.Stat(original + originalSuffix); err != nil {
		t.Error("expected .original backup to exist")
	}
	if info, err := os.Stat(original); err != nil || info.Size() != 40_000 {
		t.Error("expected P to now be the verified temp")
	}
	if _, err := os.Stat(original + markerSuffix); err != nil {
		t.Error("expected .transcoded marker to exist")
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Error("expected temp to no longer exist after rename")
	}
}

func TestSwapRollsBackOnTempRenameFailure(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "cam1_20260101_010000.mp4")
	writeSegmentFile(t, original, time.Now(), 100_000)

	pair := MediaPair{Path: original, TempPath: filepath.Join(dir, "does-not-exist.transcoding")}
	if _, err := swap(pair, 7); err == nil {
		t.Fatal("expected swap to fail when temp is missing")
	}
	if _, err := os.Stat(original); err != nil {
		t.Error("expected original to be restored after failed swap")
	}
}
