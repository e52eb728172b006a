// Package health runs the process's single periodic health tick: fleet
// liveness, storage pressure relief, and the re-encoder's deferred-delete
// sweep, finishing with one structured status line per tick.
package health

import (
	"context"
	"time"

	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/fleet"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/metrics"
	"github.com/smazurov/captured/internal/storage"
	"github.com/smazurov/captured/internal/supervisor"
	"github.com/smazurov/captured/internal/systemdnotify"
	"github.com/smazurov/captured/internal/transcode"
)

// DefaultTickInterval matches SPEC_FULL §4.8's default.
const DefaultTickInterval = 10 * time.Second

// deferredDeleteMaxPerTick bounds how many expired re-encode backups a
// single health tick reclaims, so a large backlog cannot stall the tick.
const deferredDeleteMaxPerTick = 100

// Monitor owns the periodic tick described in SPEC_FULL §4.8.
type Monitor struct {
	cfg      *config.StorageConfig
	fleet    *fleet.Fleet
	storage  *storage.Manager
	engine   *transcode.Engine
	notifier *systemdnotify.Notifier
	logger   logging.Logger
	interval time.Duration
}

// New builds a Monitor. engine may be nil when the re-encoder is not
// configured; the deferred-delete step is then skipped. The watchdog
// notification sent each tick is a no-op on hosts not running under
// systemd, so notifier is never nil-checked by callers.
func New(cfg *config.StorageConfig, f *fleet.Fleet, s *storage.Manager, engine *transcode.Engine, logger logging.Logger) *Monitor {
	return &Monitor{cfg: cfg, fleet: f, storage: s, engine: engine, notifier: systemdnotify.New(), logger: logger, interval: DefaultTickInterval}
}

// Run blocks, performing one tick immediately and then on every interval,
// until ctx is cancelled. Each tick never blocks on a single supervisor
// for more than the liveness check's bounded cost; the transcode and
// prune paths it invokes do not themselves run encoder children here —
// only bookkeeping and file deletion.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs the five ordered steps from SPEC_FULL §4.8, reporting
// liveness to systemd's watchdog last so a stall anywhere above this
// point (a hung storage query, a stuck deferred-delete sweep) withholds
// the ping and lets systemd restart the unit.
func (m *Monitor) tick() {
	defer m.notifier.Watchdog()

	liveness := m.checkLiveness()

	var usage storage.Usage
	var pruneResult storage.PruneResult
	prunedEmergency, prunedAge := false, false

	if u, err := m.storage.Usage(); err != nil {
		m.logger.Error("storage usage query failed", "error", err)
	} else {
		usage = u
		if usage.UsedFraction >= m.cfg.EmergencyUsedFraction {
			before := usage
			result, err := m.storage.EmergencyPrune(m.cfg.EmergencyTargetFraction)
			if err != nil {
				m.logger.Error("emergency prune failed", "error", err)
			} else {
				after, _ := m.storage.Usage()
				m.logger.Warn("emergency prune ran",
					"used_fraction_before", before.UsedFraction,
					"used_fraction_after", after.UsedFraction,
					"removed", result.RemovedCount, "freed_bytes", result.FreedBytes)
				pruneResult = result
				prunedEmergency = true
			}
		} else if m.cfg.CleanupEnabled {
			result, err := m.storage.PruneByAge(time.Duration(m.cfg.MaxAgeDays)*24*time.Hour, false)
			if err != nil {
				m.logger.Error("age prune failed", "error", err)
			} else {
				pruneResult = result
				prunedAge = true
			}
		}
	}

	deferredRemoved := 0
	if m.engine != nil {
		removed, err := m.engine.DeferredDeleteSweep(deferredDeleteMaxPerTick)
		if err != nil {
			m.logger.Error("deferred delete sweep failed", "error", err)
		}
		deferredRemoved = removed

		metrics.ObserveTranscode(m.engine.IsEnabled(), m.engine.CurrentProgress(), m.engine.Stats())
	}
	metrics.ObserveStorage(usage)

	m.logger.Info("health tick",
		"sources_running", liveness.running, "sources_unhealthy", liveness.unhealthy,
		"used_fraction", usage.UsedFraction,
		"emergency_prune_ran", prunedEmergency, "age_prune_ran", prunedAge,
		"prune_removed", pruneResult.RemovedCount, "prune_freed_bytes", pruneResult.FreedBytes,
		"deferred_delete_removed", deferredRemoved)
}

type livenessCounts struct {
	running   int
	unhealthy int
}

// checkLiveness confirms each Running supervisor's child still answers a
// liveness probe. Detecting death here is advisory logging only: the
// supervisor's own watcher task is the one that transitions state and
// drives the restart-backoff policy; this step never calls Start/Stop.
func (m *Monitor) checkLiveness() livenessCounts {
	var counts livenessCounts
	for id, status := range m.fleet.Snapshot() {
		metrics.ObserveSource(id, status)

		if status.State != supervisor.StateRunning {
			continue
		}
		counts.running++
		healthy, err := m.fleet.IsHealthy(id)
		if err != nil || !healthy {
			counts.unhealthy++
			m.logger.Error("supervisor reports running but unhealthy", "source", id)
		}
	}
	return counts
}
