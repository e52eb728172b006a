package systemdnotify

import "testing"

// Without NOTIFY_SOCKET set (the normal case for `go test`), every send
// must be a silent no-op rather than a panic or blocking call.
func TestNotifierMethodsAreNoOpsWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	n := New()
	n.Ready()
	n.Watchdog()
	n.Stopping()
}

func TestWatchdogIntervalDisabledWithoutEnvironment(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")

	if _, enabled := WatchdogInterval(); enabled {
		t.Error("expected watchdog disabled when WATCHDOG_USEC is unset")
	}
}
