// Package fleet is a registry mapping source identifier to supervisor. It
// forwards single-id operations, applies bulk operations to every enabled
// supervisor, and serializes its own mutating dispatch behind one mutation
// mutex while letting individual supervisor transitions run in parallel.
package fleet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/supervisor"
)

// restartSettleInterval is the fixed pause between stopping and starting
// all sources during a bulk restart, giving device handles time to
// release.
const restartSettleInterval = 2 * time.Second

// Outcome is one entry in a bulk operation's per-id result map.
type Outcome struct {
	OK    bool
	Error string
}

// Fleet owns one supervisor per configured source.
type Fleet struct {
	mu           sync.Mutex // mutation dispatch mutex; held only while dispatching, not per-transition
	supervisors  map[string]*supervisor.Supervisor
	order        []string
	enabled      map[string]bool
	shuttingDown *atomic.Bool
}

// New builds a supervisor for every source in cfg and wires them to a
// shared shutdown flag. ffmpegBin is the resolved encoder binary path.
// A supervisor is registered for every configured source, enabled or not,
// so single-id operations and status listing see the full fleet; bulk
// operations consult the enabled flag themselves (see dispatchAll).
func New(cfg *config.Config, ffmpegBin string, logger func(module string) logging.Logger) *Fleet {
	shuttingDown := &atomic.Bool{}
	f := &Fleet{
		supervisors:  make(map[string]*supervisor.Supervisor, len(cfg.Sources)),
		enabled:      make(map[string]bool, len(cfg.Sources)),
		shuttingDown: shuttingDown,
	}
	for id, src := range cfg.Sources {
		f.supervisors[id] = supervisor.New(id, src, cfg, ffmpegBin, logger("supervisor."+id), shuttingDown)
		f.order = append(f.order, id)
		f.enabled[id] = src.Enabled
	}
	return f
}

// enabledOrder returns the configured ids restricted to enabled sources,
// in the same stable order as f.order.
func (f *Fleet) enabledOrder() []string {
	ids := make([]string, 0, len(f.order))
	for _, id := range f.order {
		if f.enabled[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// get returns the named supervisor or NotFound.
func (f *Fleet) get(id string) (*supervisor.Supervisor, error) {
	s, ok := f.supervisors[id]
	if !ok {
		return nil, &apperrors.NotFound{Kind: "source", ID: id}
	}
	return s, nil
}

// Start forwards to one supervisor.
func (f *Fleet) Start(id string) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	return s.Start()
}

// Stop forwards to one supervisor.
func (f *Fleet) Stop(id string, gracefulDeadline time.Duration) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	return s.Stop(gracefulDeadline)
}

// Restart forwards to one supervisor, clearing any crash-budget pin.
func (f *Fleet) Restart(id string, gracefulDeadline time.Duration) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	return s.Restart(gracefulDeadline)
}

// Status forwards to one supervisor.
func (f *Fleet) Status(id string) (supervisor.Status, error) {
	s, err := f.get(id)
	if err != nil {
		return supervisor.Status{}, err
	}
	return s.Status(), nil
}

// IsHealthy forwards to one supervisor's liveness check: Running with a
// child that still answers a signal-0 existence probe.
func (f *Fleet) IsHealthy(id string) (bool, error) {
	s, err := f.get(id)
	if err != nil {
		return false, err
	}
	return s.IsHealthy(), nil
}

// StartAll starts every enabled supervisor in parallel, collecting per-id
// outcomes. Not atomic: partial success is reported, never rolled back.
func (f *Fleet) StartAll() map[string]Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatchAll(f.enabledOrder(), func(s *supervisor.Supervisor) error { return s.Start() })
}

// StopAll stops every enabled supervisor in parallel.
func (f *Fleet) StopAll() map[string]Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatchAll(f.enabledOrder(), func(s *supervisor.Supervisor) error { return s.Stop(0) })
}

// RestartAll performs the bulk-restart sequence from SPEC_FULL §4.4 against
// every enabled supervisor: stop all in parallel, settle, start all in
// parallel, report per-id outcomes plus an aggregate success flag.
func (f *Fleet) RestartAll() (results map[string]Outcome, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := f.enabledOrder()
	stopResults := f.dispatchAll(ids, func(s *supervisor.Supervisor) error { return s.Stop(0) })
	time.Sleep(restartSettleInterval)
	startResults := f.dispatchAll(ids, func(s *supervisor.Supervisor) error { return s.Start() })

	results = make(map[string]Outcome, len(startResults))
	success = true
	for id, out := range startResults {
		results[id] = out
		if !out.OK {
			success = false
		}
	}
	for id, out := range stopResults {
		if !out.OK {
			success = false
			if existing, ok := results[id]; ok && existing.OK {
				results[id] = out
			}
		}
	}
	return results, success
}

// dispatchAll runs op against every supervisor named in ids, in parallel,
// and waits for all to finish. Must be called with f.mu held; op itself
// runs outside any lock so individual supervisor transitions are
// concurrent.
func (f *Fleet) dispatchAll(ids []string, op func(*supervisor.Supervisor) error) map[string]Outcome {
	results := make(map[string]Outcome, len(ids))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, id := range ids {
		s := f.supervisors[id]
		wg.Add(1)
		go func(id string, s *supervisor.Supervisor) {
			defer wg.Done()
			err := op(s)
			resultsMu.Lock()
			if err != nil {
				results[id] = Outcome{OK: false, Error: err.Error()}
			} else {
				results[id] = Outcome{OK: true}
			}
			resultsMu.Unlock()
		}(id, s)
	}
	wg.Wait()
	return results
}

// Snapshot is a consistent-per-supervisor, not consistent-across-fleet,
// status view suitable for the dashboard.
func (f *Fleet) Snapshot() map[string]supervisor.Status {
	snap := make(map[string]supervisor.Status, len(f.order))
	for _, id := range f.order {
		snap[id] = f.supervisors[id].Status()
	}
	return snap
}

// IDs returns the configured source identifiers in a stable order.
func (f *Fleet) IDs() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Shutdown sets the shared shutdown flag (suppressing crash-retry
// restarts), stops every supervisor regardless of its enabled flag (an
// operator may have started a disabled source by id), and tears down
// their command loops. Part of the process shutdown cascade in
// SPEC_FULL §5.
func (f *Fleet) Shutdown(gracefulDeadline time.Duration) {
	f.shuttingDown.Store(true)

	f.mu.Lock()
	f.dispatchAll(f.order, func(s *supervisor.Supervisor) error { return s.Stop(gracefulDeadline) })
	f.mu.Unlock()

	for _, id := range f.order {
		f.supervisors[id].Close()
	}
}
