package fleet

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/supervisor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFleet builds a Fleet whose supervisors all run script via a shell
// fake instead of a real ffmpeg binary, mirroring how supervisor_test.go
// injects doStartOverride. Every id is enabled.
func newTestFleet(t *testing.T, ids []string, script string) *Fleet {
	t.Helper()
	enabled := make(map[string]bool, len(ids))
	for _, id := range ids {
		enabled[id] = true
	}
	return newTestFleetWithEnabled(t, enabled, script)
}

// newTestFleetWithEnabled builds a Fleet the same way as newTestFleet, but
// lets the caller mark individual ids disabled to exercise bulk operations'
// enabled-only filtering.
func newTestFleetWithEnabled(t *testing.T, enabled map[string]bool, script string) *Fleet {
	t.Helper()
	shuttingDown := &atomic.Bool{}
	sources := make(map[string]config.SourceConfig, len(enabled))
	for id, en := range enabled {
		sources[id] = config.SourceConfig{ID: id, InputCodec: "h264", Width: 640, Height: 480, FrameRate: 15, Enabled: en}
	}
	cfg := &config.Config{OutputCodec: "copy", SegmentDurationSeconds: 60, Sources: sources}

	f := &Fleet{
		supervisors:  make(map[string]*supervisor.Supervisor, len(enabled)),
		enabled:      make(map[string]bool, len(enabled)),
		shuttingDown: shuttingDown,
	}
	for id, en := range enabled {
		s := supervisor.New(id, sources[id], cfg, "sh", testLogger(), shuttingDown)
		s.SetDoStartOverride(func() ([]string, error) {
			return []string{"sh", "-c", script}, nil
		})
		f.supervisors[id] = s
		f.order = append(f.order, id)
		f.enabled[id] = en
	}
	return f
}

func TestStartForwardsToOneSupervisor(t *testing.T) {
	f := newTestFleet(t, []string{"cam1", "cam2"}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	if err := f.Start("cam1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := f.Status("cam1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != supervisor.StateRunning {
		t.Errorf("cam1 state = %s, want running", st.State)
	}
	st2, _ := f.Status("cam2")
	if st2.State != supervisor.StateStopped {
		t.Errorf("cam2 state = %s, want stopped (untouched)", st2.State)
	}
}

func TestStartUnknownIDReturnsNotFound(t *testing.T) {
	f := newTestFleet(t, []string{"cam1"}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	if err := f.Start("ghost"); err == nil {
		t.Fatal("expected NotFound for unknown id")
	}
}

func TestStartAllStartsEveryEnabledSupervisor(t *testing.T) {
	f := newTestFleet(t, []string{"cam1", "cam2", "cam3"}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	results := f.StartAll()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for id, outcome := range results {
		if !outcome.OK {
			t.Errorf("%s: expected OK, got error %q", id, outcome.Error)
		}
	}
	for _, id := range f.IDs() {
		st, _ := f.Status(id)
		if st.State != supervisor.StateRunning {
			t.Errorf("%s state = %s, want running", id, st.State)
		}
	}
}

func TestStartAllSkipsDisabledSupervisors(t *testing.T) {
	f := newTestFleetWithEnabled(t, map[string]bool{"cam1": true, "cam2": false}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	results := f.StartAll()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (disabled cam2 excluded)", len(results))
	}
	if _, ok := results["cam2"]; ok {
		t.Error("StartAll touched disabled cam2")
	}
	if outcome, ok := results["cam1"]; !ok || !outcome.OK {
		t.Errorf("cam1 outcome = %+v, want OK", outcome)
	}

	st1, _ := f.Status("cam1")
	if st1.State != supervisor.StateRunning {
		t.Errorf("cam1 state = %s, want running", st1.State)
	}
	st2, _ := f.Status("cam2")
	if st2.State != supervisor.StateStopped {
		t.Errorf("cam2 state = %s, want stopped (disabled, untouched by StartAll)", st2.State)
	}

	// Single-id Start still works against a disabled source on request.
	if err := f.Start("cam2"); err != nil {
		t.Fatalf("Start(cam2): %v", err)
	}
	st2, _ = f.Status("cam2")
	if st2.State != supervisor.StateRunning {
		t.Errorf("cam2 state after explicit Start = %s, want running", st2.State)
	}
}

func TestRestartAllStopsSettlesAndStarts(t *testing.T) {
	f := newTestFleet(t, []string{"cam1", "cam2"}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	if results := f.StartAll(); len(results) != 2 {
		t.Fatalf("setup StartAll: %+v", results)
	}

	start := time.Now()
	results, success := f.RestartAll()
	elapsed := time.Since(start)

	if !success {
		t.Errorf("expected success, got results %+v", results)
	}
	if elapsed < restartSettleInterval {
		t.Errorf("RestartAll returned after %v, want at least the settle interval %v", elapsed, restartSettleInterval)
	}
	for _, id := range f.IDs() {
		st, _ := f.Status(id)
		if st.State != supervisor.StateRunning {
			t.Errorf("%s state = %s, want running after restart", id, st.State)
		}
	}
}

func TestSnapshotReturnsEveryID(t *testing.T) {
	f := newTestFleet(t, []string{"cam1", "cam2"}, "sleep 5")
	defer f.Shutdown(100 * time.Millisecond)

	snap := f.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if _, ok := snap["cam1"]; !ok {
		t.Error("snapshot missing cam1")
	}
}

func TestShutdownSuppressesRestartAndStopsAll(t *testing.T) {
	f := newTestFleet(t, []string{"cam1"}, "sleep 5")

	if err := f.Start("cam1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.Shutdown(200 * time.Millisecond)

	st, _ := f.Status("cam1")
	if st.State != supervisor.StateStopped {
		t.Errorf("state after Shutdown = %s, want stopped", st.State)
	}
}
