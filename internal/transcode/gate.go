package transcode

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/smazurov/captured/internal/config"
)

// ioSampleInterval is the sampling window for the CPU-percent and
// IO-wait-percent gate checks, matching the original implementation's
// psutil.cpu_percent(interval=2) sampling window.
const ioSampleInterval = 2 * time.Second

// Gate evaluates the six ordered preconditions spec.md §4.7 requires
// before starting any transcode.
type Gate struct {
	cfg          *config.TranscoderConfig
	baseDir      string
	enabled      *atomic.Bool
	shuttingDown *atomic.Bool
}

// NewGate builds a Gate. enabled is the operator-facing atomic toggle
// exposed over HTTP; shuttingDown is the same process-wide flag the
// fleet controller sets during shutdown.
func NewGate(cfg *config.TranscoderConfig, baseDir string, enabled, shuttingDown *atomic.Bool) *Gate {
	return &Gate{cfg: cfg, baseDir: baseDir, enabled: enabled, shuttingDown: shuttingDown}
}

// Evaluate checks every precondition in order and returns the first
// failure reason, or "" if every gate is open.
func (g *Gate) Evaluate() string {
	if !g.enabled.Load() {
		return "transcoder disabled"
	}
	if !g.cfg.InScheduleWindow(time.Now()) {
		return "outside schedule window"
	}

	cpuPercent, err := sampleCPUPercent(ioSampleInterval)
	if err != nil {
		return fmt.Sprintf("cpu sample failed: %v", err)
	}
	if cpuPercent > g.cfg.MaxCPUPercent {
		return fmt.Sprintf("cpu usage %.1f%% exceeds max %.1f%%", cpuPercent, g.cfg.MaxCPUPercent)
	}

	ioWaitPercent, err := sampleIOWaitPercent(ioSampleInterval)
	if err == nil && ioWaitPercent > g.cfg.MaxIOWait {
		return fmt.Sprintf("io wait %.1f%% exceeds max %.1f%%", ioWaitPercent, g.cfg.MaxIOWait)
	}

	usage, err := disk.Usage(g.baseDir)
	if err != nil {
		return fmt.Sprintf("disk usage check failed: %v", err)
	}
	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	if freeGB < float64(g.cfg.MinFreeGB) {
		return fmt.Sprintf("free space %.1f GB below minimum %d GB", freeGB, g.cfg.MinFreeGB)
	}

	if g.shuttingDown.Load() {
		return "process is shutting down"
	}

	return ""
}

func sampleCPUPercent(interval time.Duration) (float64, error) {
	percents, err := cpu.Percent(interval, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// sampleIOWaitPercent samples cpu.Times twice across interval and
// derives the iowait share of total CPU time in the window, mirroring
// psutil's cpu_times_percent(interval).iowait since gopsutil's Percent
// only reports aggregate (non-idle) usage, not the iowait breakdown.
func sampleIOWaitPercent(interval time.Duration) (float64, error) {
	before, err := cpu.Times(false)
	if err != nil || len(before) == 0 {
		return 0, err
	}
	time.Sleep(interval)
	after, err := cpu.Times(false)
	if err != nil || len(after) == 0 {
		return 0, err
	}

	b, a := before[0], after[0]
	totalDelta := totalCPUTime(a) - totalCPUTime(b)
	if totalDelta <= 0 {
		return 0, nil
	}
	iowaitDelta := a.Iowait - b.Iowait
	return (iowaitDelta / totalDelta) * 100, nil
}

func totalCPUTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}
