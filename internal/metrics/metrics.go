// Package metrics exposes Prometheus gauges for supervisor state, the
// re-encoder's progress and lifetime counters, and storage usage. Every
// metric is updated from the same data the HTTP status endpoints and the
// health tick already read; this package owns no polling loop of its
// own — callers push values as they observe them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/captured/internal/storage"
	"github.com/smazurov/captured/internal/supervisor"
	"github.com/smazurov/captured/internal/transcode"
)

// Handler returns the Prometheus scrape endpoint handler, collecting
// every promauto-registered metric automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	sourceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "source",
		Name:      "state",
		Help:      "Supervisor state for a source: 1 for the currently active state, 0 otherwise",
	}, []string{"source_id", "state"})

	sourceUptimeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "source",
		Name:      "uptime_seconds",
		Help:      "Seconds since the current ffmpeg child for a source started, 0 when not running",
	}, []string{"source_id"})

	sourceLastExitCode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "source",
		Name:      "last_exit_code",
		Help:      "Exit code of the most recent ffmpeg child for a source",
	}, []string{"source_id"})

	transcodeEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "transcode",
		Name:      "enabled",
		Help:      "1 when the re-encoder is enabled, 0 when disabled",
	})

	transcodeActiveProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "transcode",
		Name:      "active_progress_ratio",
		Help:      "Approximate completion ratio of the file currently being re-encoded",
	}, []string{"source_id", "filename"})

	transcodeFilesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "transcode",
		Name:      "files_total",
		Help:      "Lifetime count of re-encode attempts by outcome",
	}, []string{"outcome"})

	transcodeSpaceSavedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "transcode",
		Name:      "space_saved_bytes",
		Help:      "Lifetime bytes reclaimed by successful re-encodes",
	})

	storageUsedFraction = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "storage",
		Name:      "used_fraction",
		Help:      "Fraction of the recordings filesystem currently used",
	})

	storageFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "captured",
		Subsystem: "storage",
		Name:      "free_bytes",
		Help:      "Free bytes on the recordings filesystem",
	})
)

// allStates lists every supervisor.State so ObserveSource can zero out
// labels the source isn't currently in; GaugeVec has no native enum
// support, so each state gets its own 0/1 time series per source.
var allStates = []supervisor.State{
	supervisor.StateStopped,
	supervisor.StateStarting,
	supervisor.StateRunning,
	supervisor.StateStopping,
	supervisor.StateFailed,
}

// ObserveSource updates every source_* metric for one supervisor's
// status snapshot.
func ObserveSource(id string, status supervisor.Status) {
	for _, s := range allStates {
		v := 0.0
		if status.State == s {
			v = 1
		}
		sourceState.WithLabelValues(id, string(s)).Set(v)
	}
	sourceUptimeSeconds.WithLabelValues(id).Set(status.Uptime.Seconds())
	if status.HasLastExit {
		sourceLastExitCode.WithLabelValues(id).Set(float64(status.LastExitCode))
	}
}

// DeleteSource removes every source_* series for one source id.
func DeleteSource(id string) {
	for _, s := range allStates {
		sourceState.DeleteLabelValues(id, string(s))
	}
	sourceUptimeSeconds.DeleteLabelValues(id)
	sourceLastExitCode.DeleteLabelValues(id)
}

// ObserveTranscode updates every transcode_* metric from the engine's
// current enabled flag, in-flight progress, and lifetime stats.
func ObserveTranscode(enabled bool, progress *transcode.Progress, stats transcode.Stats) {
	if enabled {
		transcodeEnabled.Set(1)
	} else {
		transcodeEnabled.Set(0)
	}

	transcodeActiveProgress.Reset()
	if progress != nil {
		transcodeActiveProgress.WithLabelValues(progress.SourceID, progress.Filename).Set(progress.PercentApprox / 100)
	}

	transcodeFilesTotal.WithLabelValues("succeeded").Set(float64(stats.FilesTranscoded))
	transcodeFilesTotal.WithLabelValues("failed").Set(float64(stats.FilesFailed))
	transcodeSpaceSavedBytes.Set(float64(stats.SpaceSavedBytes))
}

// ObserveStorage updates every storage_* metric from a usage snapshot.
func ObserveStorage(usage storage.Usage) {
	storageUsedFraction.Set(usage.UsedFraction)
	storageFreeBytes.Set(float64(usage.FreeBytes))
}
