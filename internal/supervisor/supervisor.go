// Package supervisor owns one capture source's lifecycle: launching its
// encoder child, watching it, restarting it with bounded exponential
// backoff on unexpected exit, and serializing start/stop/restart commands
// through a single per-source command channel.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/ffmpeg"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/process"
)

// State is one of the five supervisor states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

const (
	initialBackoff      = 2 * time.Second
	maxBackoff          = 60 * time.Second
	backoffResetAfter   = 10 * time.Minute
	crashWindow         = 300 * time.Second
	crashPinThreshold   = 5
	defaultGracefulStop = 10 * time.Second
	killReapTimeout     = 10 * time.Second
)

// Status is a pure read of a supervisor's current state.
type Status struct {
	ID           string
	State        State
	PID          int
	StartedAt    time.Time
	Uptime       time.Duration
	LastExitCode int
	HasLastExit  bool
	LastError    error
	StderrTail   []logging.Entry
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRestart
)

type command struct {
	kind     cmdKind
	deadline time.Duration
	reply    chan error
}

// Supervisor drives one source's encoder child through its state machine.
// Construct with New and call Close when the process is shutting down.
type Supervisor struct {
	id           string
	src          config.SourceConfig
	cfg          *config.Config
	ffmpegBin    string
	logger       logging.Logger
	shuttingDown *atomic.Bool

	cmdCh chan command

	mu           sync.RWMutex
	state        State
	handle       *process.ChildHandle
	startedAt    time.Time
	runningSince time.Time
	lastExitCode int
	lastExitSet  bool
	lastErr      error

	// guarded by mu; written by the loop goroutine and by ClearCrashBudget
	exitTimestamps []time.Time
	backoff        time.Duration

	// doStartOverride replaces ffmpeg.CaptureArgs as the argument-vector
	// source; tests set it to launch a shell fake instead of a real
	// ffmpeg binary.
	doStartOverride func() ([]string, error)
}

// New creates a supervisor for src and starts its command loop. shutdown
// is a process-wide flag the fleet controller sets before a shutdown
// cascade; crash retries check it before relaunching.
func New(id string, src config.SourceConfig, cfg *config.Config, ffmpegBin string, logger logging.Logger, shutdown *atomic.Bool) *Supervisor {
	s := &Supervisor{
		id:           id,
		src:          src,
		cfg:          cfg,
		ffmpegBin:    ffmpegBin,
		logger:       logger,
		shuttingDown: shutdown,
		cmdCh:        make(chan command),
		state:        StateStopped,
	}
	go s.loop()
	return s
}

// ID returns the source identifier this supervisor owns.
func (s *Supervisor) ID() string { return s.id }

// SetDoStartOverride replaces the argument-vector source used on the next
// Start/Restart, for injecting a shell fake in place of a real ffmpeg
// binary. Intended for tests, including those in other packages (e.g.
// internal/fleet) that construct supervisors directly.
func (s *Supervisor) SetDoStartOverride(f func() ([]string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doStartOverride = f
}

func (s *Supervisor) snapshotState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start requests a transition to Running. Idempotent when already
// Running; fails with Busy when a transition is already in flight.
func (s *Supervisor) Start() error {
	switch s.snapshotState() {
	case StateRunning:
		return nil
	case StateStarting, StateStopping:
		return &apperrors.Busy{Reason: fmt.Sprintf("supervisor %s is %s", s.id, s.snapshotState())}
	case StateFailed:
		// an explicit operator start from a crash-pinned Failed state gets
		// a clean retry budget, not a bypass of the pin.
		s.ClearCrashBudget()
	}
	reply := make(chan error, 1)
	s.cmdCh <- command{kind: cmdStart, reply: reply}
	return <-reply
}

// Stop requests a graceful-then-forced transition to Stopped. Idempotent
// when already Stopped.
func (s *Supervisor) Stop(gracefulDeadline time.Duration) error {
	if s.snapshotState() == StateStopped {
		return nil
	}
	reply := make(chan error, 1)
	s.cmdCh <- command{kind: cmdStop, deadline: gracefulDeadline, reply: reply}
	return <-reply
}

// Restart stops then starts, atomically with respect to other callers of
// this supervisor (both legs run inside one command-channel turn). An
// explicit operator restart always clears the crash-budget pin.
func (s *Supervisor) Restart(gracefulDeadline time.Duration) error {
	s.ClearCrashBudget()
	reply := make(chan error, 1)
	s.cmdCh <- command{kind: cmdRestart, deadline: gracefulDeadline, reply: reply}
	return <-reply
}

// Status is a pure, lock-protected read.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:           s.id,
		State:        s.state,
		LastExitCode: s.lastExitCode,
		HasLastExit:  s.lastExitSet,
		LastError:    s.lastErr,
	}
	if s.handle != nil {
		st.PID = s.handle.PID
		st.StartedAt = s.handle.StartedAt
		st.Uptime = time.Since(s.handle.StartedAt)
		st.StderrTail = s.handle.Stderr.Tail(32)
	}
	return st
}

// IsHealthy reports Running plus a live non-invasive existence check.
func (s *Supervisor) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning && s.handle != nil && s.handle.Alive()
}

// Close stops accepting commands. Callers must Stop() first; Close only
// tears down the loop goroutine.
func (s *Supervisor) Close() {
	close(s.cmdCh)
}

// loop is the supervisor's single long-lived task: blocked on the command
// channel, on child exit, and on restart backoff timers.
func (s *Supervisor) loop() {
	var exitCh <-chan process.ExitStatus
	var backoffTimer *time.Timer
	var backoffC <-chan time.Time

	stopBackoff := func() {
		if backoffTimer != nil {
			backoffTimer.Stop()
			backoffTimer = nil
			backoffC = nil
		}
	}

	for {
		select {
		case cmd, ok := <-s.cmdCh:
			if !ok {
				return
			}
			switch cmd.kind {
			case cmdStart:
				stopBackoff()
				err := s.doStart()
				cmd.reply <- err
				if err == nil {
					exitCh = s.watchChild(s.handle)
				} else {
					exitCh = nil
				}

			case cmdStop:
				stopBackoff()
				err := s.doStop(cmd.deadline)
				exitCh = nil
				cmd.reply <- err

			case cmdRestart:
				stopBackoff()
				err := s.doStop(cmd.deadline)
				exitCh = nil
				if err == nil {
					err = s.doStart()
					if err == nil {
						exitCh = s.watchChild(s.handle)
					}
				}
				cmd.reply <- err
			}

		case status := <-exitCh:
			exitCh = nil
			s.recordUnexpectedExit(status)

			if s.shuttingDown.Load() {
				s.mu.Lock()
				s.state = StateStopped
				s.handle = nil
				s.mu.Unlock()
				continue
			}

			if s.pinnedByCrashBudget() {
				continue
			}

			delay := s.nextBackoff()
			backoffTimer = time.NewTimer(delay)
			backoffC = backoffTimer.C

		case <-backoffC:
			backoffC = nil
			if s.shuttingDown.Load() {
				continue
			}
			if err := s.doStart(); err == nil {
				exitCh = s.watchChild(s.handle)
			} else {
				delay := s.nextBackoff()
				backoffTimer = time.NewTimer(delay)
				backoffC = backoffTimer.C
			}
		}
	}
}

func (s *Supervisor) watchChild(h *process.ChildHandle) <-chan process.ExitStatus {
	ch := make(chan process.ExitStatus, 1)
	go func() {
		status, _ := h.Wait(0)
		ch <- status
	}()
	return ch
}

func (s *Supervisor) buildArgv() ([]string, error) {
	s.mu.RLock()
	override := s.doStartOverride
	s.mu.RUnlock()
	if override != nil {
		return override()
	}
	return ffmpeg.CaptureArgs(s.ffmpegBin, s.cfg, s.src), nil
}

func (s *Supervisor) doStart() error {
	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	argv, err := s.buildArgv()
	if err != nil {
		launchErr := &apperrors.LaunchFailed{Reason: err.Error()}
		s.mu.Lock()
		s.state = StateFailed
		s.handle = nil
		s.lastErr = launchErr
		s.mu.Unlock()
		return launchErr
	}

	handle, err := process.Launch(context.Background(), argv, s.logger)
	if err != nil {
		launchErr := &apperrors.LaunchFailed{Reason: err.Error()}
		s.mu.Lock()
		s.state = StateFailed
		s.handle = nil
		s.lastErr = launchErr
		s.mu.Unlock()
		return launchErr
	}

	s.mu.Lock()
	s.handle = handle
	s.state = StateRunning
	s.startedAt = handle.StartedAt
	s.runningSince = handle.StartedAt
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) doStop(deadline time.Duration) error {
	s.mu.RLock()
	handle := s.handle
	state := s.state
	s.mu.RUnlock()

	if state == StateStopped {
		return nil
	}
	if handle == nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.state = StateStopping
	s.mu.Unlock()

	if deadline <= 0 {
		deadline = defaultGracefulStop
	}

	_ = handle.SignalInterrupt()
	status, err := handle.Wait(deadline)
	if err == process.ErrWaitTimeout {
		_ = handle.SignalKill()
		status, err = handle.Wait(killReapTimeout)
	}
	_ = err // best-effort reap; handle is discarded regardless

	s.mu.Lock()
	s.state = StateStopped
	s.handle = nil
	s.lastExitCode = status.Code
	s.lastExitSet = true
	s.mu.Unlock()
	return nil
}

// recordUnexpectedExit transitions Running -> Failed and records the
// exit for the crash-budget window and UnexpectedExit failure taxonomy.
// exitTimestamps and backoff are mutated only here, in nextBackoff, and in
// ClearCrashBudget, all under s.mu — the loop goroutine is their usual
// owner but ClearCrashBudget may run from a fleet-controller goroutine.
func (s *Supervisor) recordUnexpectedExit(status process.ExitStatus) {
	now := time.Now()

	s.mu.Lock()
	s.state = StateFailed
	s.handle = nil
	s.lastExitCode = status.Code
	s.lastExitSet = true
	s.lastErr = &apperrors.UnexpectedExit{Code: status.Code}

	s.exitTimestamps = append(s.exitTimestamps, now)
	cutoff := now.Add(-crashWindow)
	kept := s.exitTimestamps[:0]
	for _, t := range s.exitTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.exitTimestamps = kept
	s.mu.Unlock()
}

// pinnedByCrashBudget reports whether 5 exits within the last 300s have
// exhausted the automatic-restart budget, pinning the supervisor in
// Failed until an operator restart.
func (s *Supervisor) pinnedByCrashBudget() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exitTimestamps) >= crashPinThreshold
}

// nextBackoff returns the next restart delay: doubling from 2s to a
// ceiling of 60s, reset to 2s if the child had been continuously Running
// for at least 10 minutes before this exit.
func (s *Supervisor) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranLong := !s.runningSince.IsZero() && time.Since(s.runningSince) >= backoffResetAfter
	switch {
	case ranLong || s.backoff == 0:
		s.backoff = initialBackoff
	default:
		s.backoff *= 2
		if s.backoff > maxBackoff {
			s.backoff = maxBackoff
		}
	}
	return s.backoff
}

// ClearCrashBudget resets the exit-window and backoff bookkeeping. Called
// by the fleet controller on an explicit operator restart of a
// Failed-pinned supervisor, so the retry budget does not leak across
// operator actions.
func (s *Supervisor) ClearCrashBudget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitTimestamps = nil
	s.backoff = 0
}
