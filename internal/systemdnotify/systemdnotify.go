// Package systemdnotify wraps the systemd service-notification protocol:
// READY=1 once startup has finished and WATCHDOG=1 on every health tick.
// Every call is a no-op, never an error, when NOTIFY_SOCKET is unset, so a
// host running this process outside systemd is unaffected.
package systemdnotify

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends READY/WATCHDOG/STOPPING datagrams to systemd's notify
// socket. The zero value is usable; every method is silently a no-op
// outside a systemd unit.
type Notifier struct{}

// New returns a Notifier. There is no connection to hold open: each send
// opens, writes, and closes its own datagram socket.
func New() *Notifier {
	return &Notifier{}
}

// Ready reports that startup has completed: the fleet controller and HTTP
// server are both accepting work. Safe to call even when the unit has no
// Type=notify (the send is then simply discarded by go-systemd).
func (n *Notifier) Ready() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Watchdog reports liveness for systemd's WatchdogSec supervision. Call
// this once per health tick; skipping ticks past WatchdogSec's interval
// triggers a unit restart.
func (n *Notifier) Watchdog() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}

// Stopping reports that graceful shutdown has begun, ahead of process
// exit.
func (n *Notifier) Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// WatchdogInterval returns the interval systemd expects a Watchdog() call
// within, derived from WATCHDOG_USEC. enabled is false when the unit has
// no watchdog configured (WatchdogSec unset) or the process isn't running
// under systemd at all, in which case callers should not start a watchdog
// ticker.
func WatchdogInterval() (interval time.Duration, enabled bool) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
