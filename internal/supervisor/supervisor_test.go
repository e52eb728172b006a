package supervisor

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/captured/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor builds a supervisor whose doStartOverride returns a
// plain `sh -c <script>` argument vector. Real CaptureArgs always shells
// out to ffmpeg; these tests instead launch the
// shell directly to exercise the supervisor's state machine without a
// real ffmpeg binary, mirroring the teacher's pool_test.go fakes.
func newTestSupervisor(t *testing.T, script string) (*Supervisor, *atomic.Bool) {
	t.Helper()
	shuttingDown := &atomic.Bool{}
	src := config.SourceConfig{ID: "cam1", InputCodec: "h264", Width: 640, Height: 480, FrameRate: 15}
	cfg := &config.Config{OutputCodec: "copy", SegmentDurationSeconds: 60}
	s := New("cam1", src, cfg, "sh", testLogger(), shuttingDown)
	s.doStartOverride = func() ([]string, error) {
		return []string{"sh", "-c", script}, nil
	}
	return s, shuttingDown
}

func TestStartTransitionsToRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, "sleep 5")
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Status().State; got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}
	if !s.IsHealthy() {
		t.Error("expected healthy after start")
	}
	if err := s.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartIdempotentWhenRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, "sleep 5")
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("second Start on Running should be idempotent, got %v", err)
	}
	_ = s.Stop(100 * time.Millisecond)
}

func TestStopIdempotentWhenStopped(t *testing.T) {
	s, _ := newTestSupervisor(t, "sleep 5")
	defer s.Close()

	if err := s.Stop(100 * time.Millisecond); err != nil {
		t.Errorf("Stop on already-Stopped should be idempotent, got %v", err)
	}
}

func TestStopSendsInterruptThenWaits(t *testing.T) {
	s, _ := newTestSupervisor(t, `trap 'exit 0' INT; while :; do sleep 0.05; done`)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := s.Stop(500 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status := s.Status()
	if status.State != StateStopped {
		t.Errorf("state = %s, want stopped", status.State)
	}
	if !status.HasLastExit || status.LastExitCode != 0 {
		t.Errorf("last exit = %+v, want code 0", status)
	}
}

func TestStopForceKillsOnTimeout(t *testing.T) {
	s, _ := newTestSupervisor(t, `trap '' INT; sleep 10`)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := s.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status := s.Status()
	if !status.HasLastExit || status.LastExitCode != 137 {
		t.Errorf("last exit = %+v, want signalled 137", status)
	}
}

func TestUnexpectedExitMovesToFailed(t *testing.T) {
	s, _ := newTestSupervisor(t, "exit 1")
	s.backoff = 10 * time.Millisecond // speed the test up; still exercises the loop's timer path
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == StateFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Status().State; got != StateFailed {
		t.Fatalf("state = %s, want failed after unexpected exit", got)
	}
}

func TestCrashBudgetPinsAfterFiveExits(t *testing.T) {
	s, _ := newTestSupervisor(t, "exit 1")
	s.backoff = 5 * time.Millisecond
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !s.pinnedByCrashBudget() {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.pinnedByCrashBudget() {
		t.Fatal("expected crash budget to pin the supervisor within the window")
	}
}

func TestShuttingDownSuppressesRestart(t *testing.T) {
	s, shuttingDown := newTestSupervisor(t, "exit 1")
	s.backoff = 5 * time.Millisecond
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	shuttingDown.Store(true)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if s.Status().State == StateStopped {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.Status().State; got != StateStopped {
		t.Errorf("state = %s, want stopped once shutdown is observed", got)
	}
}
