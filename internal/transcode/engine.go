package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/ffmpeg"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/process"
	"github.com/smazurov/captured/internal/storage"
)

const (
	gateHeldPollInterval   = 60 * time.Second
	interFilePause         = 60 * time.Second
	cancelGraceDeadline    = 300 * time.Second
	expectedCompressionRatio = 0.6
)

// Progress is a snapshot of the file currently being re-encoded, exposed
// over /api/transcoding/status.
type Progress struct {
	Filename      string
	SourceID      string
	OriginalSize  int64
	CurrentSize   int64
	PercentApprox float64
}

// Engine drives the background re-encoder: candidate discovery, the
// scheduling gate, one-at-a-time execution with low OS priority,
// verification, atomic swap, and the deferred-delete sweep.
type Engine struct {
	cfg          *config.TranscoderConfig
	baseDir      string
	ffmpegBin    string
	probeBin     string
	logger       logging.Logger
	shuttingDown *atomic.Bool

	enabled *atomic.Bool
	gate    *Gate
	stats   *StatsStore

	mu      sync.RWMutex
	current *Progress
}

// New builds an Engine. enabled starts set to cfg.Enabled; operators flip
// it independently afterward via Enable/Disable.
func New(cfg *config.TranscoderConfig, baseDir, ffmpegBin, probeBin string, logger logging.Logger, shuttingDown *atomic.Bool, stats *StatsStore) *Engine {
	enabled := &atomic.Bool{}
	enabled.Store(cfg.Enabled)
	return &Engine{
		cfg:          cfg,
		baseDir:      baseDir,
		ffmpegBin:    ffmpegBin,
		probeBin:     probeBin,
		logger:       logger,
		shuttingDown: shuttingDown,
		enabled:      enabled,
		gate:         NewGate(cfg, baseDir, enabled, shuttingDown),
		stats:        stats,
	}
}

// Enable flips the atomic enabled flag on.
func (e *Engine) Enable() { e.enabled.Store(true) }

// Disable flips the atomic enabled flag off. Per spec.md §9's Open
// Question decision, a file already in progress is allowed to finish.
func (e *Engine) Disable() { e.enabled.Store(false) }

// IsEnabled reports the current toggle state.
func (e *Engine) IsEnabled() bool { return e.enabled.Load() }

// CurrentProgress returns the in-flight file's progress, or nil when
// idle.
func (e *Engine) CurrentProgress() *Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	p := *e.current
	return &p
}

// InScheduleWindow reports whether now falls inside the configured
// schedule window, for the HTTP status snapshot.
func (e *Engine) InScheduleWindow() bool {
	return e.cfg.InScheduleWindow(time.Now())
}

// Stats returns the current persisted statistics snapshot.
func (e *Engine) Stats() Stats { return e.stats.Snapshot() }

// Run is the engine's single long-lived task: evaluate the scheduling
// gate, scan for candidates, process one file at a time, until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	if err := e.Reconcile(); err != nil {
		e.logger.Error("startup reconciliation failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reason := e.gate.Evaluate(); reason != "" {
			e.logger.Debug("transcode gate held", "reason", reason)
			if !sleepOrDone(ctx, gateHeldPollInterval) {
				return
			}
			continue
		}

		candidates, counts, err := ScanCandidates(ctx, e.baseDir, e.probeBin, outputCodecTargetName(e.cfg), time.Duration(e.cfg.MinAgeDays)*24*time.Hour)
		if err != nil {
			e.logger.Error("candidate scan failed", "error", err)
			if !sleepOrDone(ctx, gateHeldPollInterval) {
				return
			}
			continue
		}
		e.logger.Info("candidate scan complete",
			"scanned", counts.Scanned, "eligible", counts.Eligible,
			"too_new", counts.TooNew, "already_transcoded", counts.AlreadyTranscoded,
			"in_progress", counts.InProgress, "wrong_codec", counts.WrongCodec)

		if len(candidates) == 0 {
			if !sleepOrDone(ctx, time.Hour) {
				return
			}
			continue
		}

		for _, c := range candidates {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if reason := e.gate.Evaluate(); reason != "" {
				e.logger.Debug("transcode gate closed mid-batch", "reason", reason)
				break
			}
			if err := e.ProcessOne(ctx, c); err != nil {
				e.logger.Error("transcode failed", "path", c.Path, "error", err)
			}
			if _, err := e.DeferredDeleteSweep(100); err != nil {
				e.logger.Error("deferred delete sweep failed", "error", err)
			}
			if !sleepOrDone(ctx, interFilePause) {
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ProcessOne runs the full single-candidate pipeline: launch the
// re-encode child at the lowest OS scheduling priority, verify the
// result, and atomically swap it in. A cancelled ctx interrupts the
// child, waits up to cancelGraceDeadline, then kills; the temp is
// deleted and no swap happens.
func (e *Engine) ProcessOne(ctx context.Context, c Candidate) error {
	runID := uuid.NewString()
	log := e.loggerWithRunID(runID)

	tempPath := c.Path + transcodingSuffix
	pair := MediaPair{Path: c.Path, TempPath: tempPath}

	e.mu.Lock()
	e.current = &Progress{Filename: filepath.Base(c.Path), SourceID: c.SourceID, OriginalSize: c.Size}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	log.Info("re-encode run starting", "path", c.Path, "source", c.SourceID)

	argv := append([]string{"nice", "-n", "19", "ionice", "-c", "3"}, ffmpeg.TranscodeArgs(e.ffmpegBin, e.cfg, c.Path, tempPath)...)
	// Launched detached from ctx: exec.CommandContext would SIGKILL the
	// child the instant ctx is cancelled, short-circuiting the graceful
	// interrupt-then-wait-then-kill sequence cancelChild performs below.
	handle, err := process.Launch(context.Background(), argv, e.logger)
	if err != nil {
		_ = e.stats.RecordFailure(err.Error())
		log.Error("re-encode run failed to launch", "error", err)
		return &apperrors.LaunchFailed{Reason: err.Error()}
	}

	e.trackProgress(ctx, handle, c, tempPath)

	status, waitErr := e.waitOrCancel(ctx, handle)
	if ctx.Err() != nil {
		os.Remove(tempPath)
		log.Info("re-encode run cancelled", "path", c.Path)
		return ctx.Err()
	}

	if waitErr != nil {
		_ = e.stats.RecordFailure(waitErr.Error())
		os.Remove(tempPath)
		log.Error("re-encode run failed", "error", waitErr)
		return waitErr
	}
	if status.Code != 0 {
		reason := fmt.Sprintf("ffmpeg exited %d", status.Code)
		_ = e.stats.RecordFailure(reason)
		os.Remove(tempPath)
		log.Error("re-encode run failed", "error", reason)
		return &apperrors.VerificationFailed{Reason: reason}
	}

	if err := verify(ctx, e.probeBin, e.ffmpegBin, pair, e.cfg.MinSavingsPercent); err != nil {
		_ = e.stats.RecordFailure(err.Error())
		os.Remove(tempPath)
		log.Error("re-encode run failed verification", "error", err)
		return err
	}

	marker, err := swap(pair, e.cfg.KeepOriginalDays)
	if err != nil {
		_ = e.stats.RecordFailure(err.Error())
		log.Error("re-encode run failed to swap", "error", err)
		return err
	}
	log.Info("re-encode run succeeded", "original_bytes", marker.OriginalSize, "new_bytes", marker.NewSize)
	return e.stats.RecordSuccess(marker.OriginalSize, marker.NewSize)
}

// runLogger is the subset of logging.Logger a run-scoped wrapper needs.
type runLogger struct {
	logging.Logger
	runID string
}

func (e *Engine) loggerWithRunID(runID string) runLogger {
	return runLogger{Logger: e.logger, runID: runID}
}

func (l runLogger) Info(msg string, args ...any)  { l.Logger.Info(msg, append(args, "run_id", l.runID)...) }
func (l runLogger) Error(msg string, args ...any) { l.Logger.Error(msg, append(args, "run_id", l.runID)...) }

// ForceScanAndQueue drains every currently untranscoded file regardless
// of the schedule window or age cutoff, mirroring the original
// force_transcode_now behavior: it walks source directories and hands
// each eligible file to ProcessOne as it is found, rather than
// collecting a full candidate list before starting any work. It returns
// once the scan and every discovered file have been processed or ctx is
// cancelled; callers that want this to run in the background should
// invoke it in their own goroutine.
func (e *Engine) ForceScanAndQueue(ctx context.Context) error {
	entries, err := os.ReadDir(e.baseDir)
	if err != nil {
		return fmt.Errorf("read recordings base directory: %w", err)
	}

	target := outputCodecTargetName(e.cfg)
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dir := filepath.Join(e.baseDir, dirEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || isTranscodingAuxiliary(f.Name()) {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			path := filepath.Join(dir, f.Name())
			sourceID, _, ok := storage.ParseSegmentName(f.Name())
			if !ok {
				continue
			}
			if _, err := os.Stat(path + markerSuffix); err == nil {
				continue
			}
			if _, err := os.Stat(path + transcodingSuffix); err == nil {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			mediaInfo, err := ffmpeg.Probe(ctx, e.probeBin, path)
			if err != nil || mediaInfo.CodecName == target {
				continue
			}

			c := Candidate{Path: path, SourceID: sourceID, Size: info.Size(), ModTime: info.ModTime()}
			if err := e.ProcessOne(ctx, c); err != nil {
				e.logger.Error("forced transcode failed", "path", path, "error", err)
			}
		}
	}
	return nil
}

// trackProgress polls the temp output's size in the background while the
// child runs, updating the exposed Progress snapshot.
func (e *Engine) trackProgress(ctx context.Context, h *process.ChildHandle, c Candidate, tempPath string) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !h.Alive() {
					return
				}
				info, err := os.Stat(tempPath)
				if err != nil {
					continue
				}
				expected := float64(c.Size) * expectedCompressionRatio
				e.mu.Lock()
				if e.current != nil {
					e.current.CurrentSize = info.Size()
					if expected > 0 {
						e.current.PercentApprox = (float64(info.Size()) / expected) * 100
					}
				}
				e.mu.Unlock()
			}
		}
	}()
}

// waitResult is the payload of the single goroutine allowed to call
// ChildHandle.Wait for a given child; since Wait's underlying done
// channel only ever delivers once, no other caller may race it.
type waitResult struct {
	status process.ExitStatus
	err    error
}

// waitOrCancel reaps h exactly once. On ctx cancellation it interrupts
// the child and, if it has not exited within cancelGraceDeadline, kills
// it — without ever calling Wait from more than one goroutine.
func (e *Engine) waitOrCancel(ctx context.Context, h *process.ChildHandle) (process.ExitStatus, error) {
	done := make(chan waitResult, 1)
	go func() {
		status, err := h.Wait(0)
		done <- waitResult{status, err}
	}()

	select {
	case r := <-done:
		return r.status, r.err
	case <-ctx.Done():
	}

	_ = h.SignalInterrupt()
	grace := time.NewTimer(cancelGraceDeadline)
	defer grace.Stop()
	select {
	case r := <-done:
		return r.status, r.err
	case <-grace.C:
	}

	_ = h.SignalKill()
	r := <-done
	return r.status, r.err
}
