package transcode

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadStatsReturnsZeroValueWhenFileMissing(t *testing.T) {
	store, err := LoadStats(t.TempDir())
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	snap := store.Snapshot()
	if snap.FilesTranscoded != 0 || snap.FilesFailed != 0 {
		t.Errorf("expected zero-valued stats, got %+v", snap)
	}
}

func TestRecordSuccessUpdatesCountersAndPersists(t *testing.T) {
	base := t.TempDir()
	store, err := LoadStats(base)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}

	if err := store.RecordSuccess(100_000, 40_000); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	snap := store.Snapshot()
	if snap.FilesTranscoded != 1 {
		t.Errorf("FilesTranscoded = %d, want 1", snap.FilesTranscoded)
	}
	if snap.SpaceSavedBytes != 60_000 {
		t.Errorf("SpaceSavedBytes = %d, want 60000", snap.SpaceSavedBytes)
	}
	if snap.LastTranscoded == nil {
		t.Fatal("expected LastTranscoded to be set")
	}

	reloaded, err := LoadStats(base)
	if err != nil {
		t.Fatalf("reload LoadStats: %v", err)
	}
	if reloaded.Snapshot().FilesTranscoded != 1 {
		t.Error("expected persisted stats to survive reload")
	}
}

func TestRecordFailureSetsLastError(t *testing.T) {
	store, err := LoadStats(t.TempDir())
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	if err := store.RecordFailure("integrity check failed"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	snap := store.Snapshot()
	if snap.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", snap.FilesFailed)
	}
	if snap.LastError == nil || *snap.LastError != "integrity check failed" {
		t.Errorf("LastError = %v, want \"integrity check failed\"", snap.LastError)
	}
}

func TestWriteMarkerThenReadMarkerRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam1_20260101_010000.mp4.transcoded")
	want := Marker{
		TranscodedAt: time.Now().UTC().Truncate(time.Second),
		OriginalSize: 100_000,
		NewSize:      40_000,
		SavingsBytes: 60_000,
		OriginalFile: path + originalSuffix,
		DeleteAfter:  time.Now().UTC().AddDate(0, 0, 7).Truncate(time.Second),
	}
	if err := writeMarker(path, want); err != nil {
		t.Fatalf("writeMarker: %v", err)
	}
	got, err := readMarker(path)
	if err != nil {
		t.Fatalf("readMarker: %v", err)
	}
	if !got.TranscodedAt.Equal(want.TranscodedAt) || got.OriginalSize != want.OriginalSize {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestAtomicWriteFileLeavesNoTempOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := atomicWriteFile(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("atomicWriteFile: %v", err)
	}
	if _, err := LoadStats(filepath.Dir(path)); err != nil {
		t.Fatalf("directory should still be readable: %v", err)
	}
}
