package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/smazurov/captured/internal/apperrors"
	"github.com/smazurov/captured/internal/fleet"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/supervisor"
)

const (
	defaultRecordingsLimit = 50
	maxRecordingsLimit     = 500
	defaultLogLines        = 100
	maxLogLines             = 1000
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), OKResponse{OK: false, Error: err.Error()})
}

// statusHandler serves GET /api/status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.fleet.Snapshot()

	resp := StatusResponse{TotalCameras: len(snap)}
	for _, id := range s.fleet.IDs() {
		status := snap[id]
		if status.State == supervisor.StateRunning {
			resp.Running++
			if healthy, err := s.fleet.IsHealthy(id); err != nil || !healthy {
				resp.Unhealthy++
			}
		}
		resp.Cameras = append(resp.Cameras, childStatusFor(id, status))
	}

	if usage, err := s.storage.Usage(); err == nil {
		resp.Storage = StorageUsageResponse{TotalBytes: usage.TotalBytes, FreeBytes: usage.FreeBytes, UsedFraction: usage.UsedFraction}
	}

	resp.HealthTier = healthTier(resp)
	if s.engine != nil {
		resp.TranscoderBusy = s.engine.CurrentProgress() != nil
	}

	writeJSON(w, http.StatusOK, resp)
}

func healthTier(resp StatusResponse) string {
	switch {
	case resp.TotalCameras == 0:
		return "ok"
	case resp.Running == 0:
		return "critical"
	case resp.Unhealthy > 0 || resp.Storage.UsedFraction >= 0.95:
		return "degraded"
	default:
		return "ok"
	}
}

// childStatusFor reads the live CPU/memory sample for a running child's
// PID, best-effort: a process that has already exited or a permission
// failure leaves the sample fields zero rather than failing the request.
func childStatusFor(id string, status supervisor.Status) ChildStatus {
	cs := ChildStatus{ID: id, State: string(status.State), PID: status.PID, UptimeSecond: status.Uptime.Seconds()}
	if status.State != supervisor.StateRunning || status.PID == 0 {
		return cs
	}
	proc, err := gopsprocess.NewProcess(int32(status.PID))
	if err != nil {
		return cs
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cs.CPUPercent = pct
	}
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		cs.MemoryBytes = info.RSS
	}
	return cs
}

// camerasHandler serves GET /api/cameras.
func (s *Server) camerasHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.fleet.Snapshot()
	out := make([]CameraResponse, 0, len(snap))
	for _, id := range s.fleet.IDs() {
		src := s.cfg.Sources[id]
		status := snap[id]
		healthy, _ := s.fleet.IsHealthy(id)
		out = append(out, CameraResponse{
			ID:         id,
			Name:       src.Name,
			State:      string(status.State),
			Recording:  status.State == supervisor.StateRunning,
			Healthy:    healthy,
			Resolution: src.Resolution,
			FrameRate:  src.FrameRate,
			Device:     src.Device,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// recordingsHandler serves GET /api/recordings?camera=<id|all>&limit=<n>.
func (s *Server) recordingsHandler(w http.ResponseWriter, r *http.Request) {
	camera := r.URL.Query().Get("camera")
	if camera == "all" {
		camera = ""
	}

	limit := defaultRecordingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecordingsLimit {
		limit = maxRecordingsLimit
	}

	segments, err := s.storage.Scan(camera)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]RecordingResponse, 0, limit)
	for i := len(segments) - 1; i >= 0 && len(out) < limit; i-- {
		seg := segments[i]
		out = append(out, RecordingResponse{
			ID:       seg.SourceID + "/" + seg.Filename,
			Camera:   seg.SourceID,
			Filename: seg.Filename,
			Size:     seg.Size,
			ModTime:  seg.ModTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// storageHandler serves GET /api/storage.
func (s *Server) storageHandler(w http.ResponseWriter, r *http.Request) {
	usage, err := s.storage.Usage()
	if err != nil {
		writeError(w, err)
		return
	}
	perSource, err := s.storage.PerSourceBreakdown()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StorageUsageResponse{
		TotalBytes:   usage.TotalBytes,
		FreeBytes:    usage.FreeBytes,
		UsedFraction: usage.UsedFraction,
		PerSource:    perSource,
	})
}

// systemCPUHandler serves GET /api/system/cpu.
func (s *Server) systemCPUHandler(w http.ResponseWriter, r *http.Request) {
	total, err := cpu.Percent(0, false)
	if err != nil || len(total) == 0 {
		writeError(w, err)
		return
	}
	perCPU, _ := cpu.Percent(0, true)
	writeJSON(w, http.StatusOK, SystemCPUResponse{PercentTotal: total[0], PerCPU: perCPU})
}

// systemMemoryHandler serves GET /api/system/memory.
func (s *Server) systemMemoryHandler(w http.ResponseWriter, r *http.Request) {
	v, err := mem.VirtualMemory()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SystemMemoryResponse{
		TotalBytes:   v.Total,
		UsedBytes:    v.Used,
		FreeBytes:    v.Free,
		UsedFraction: v.UsedPercent / 100,
	})
}

// logsHandler serves GET /api/logs?lines=<n>.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	if n > maxLogLines {
		n = maxLogLines
	}
	buf := logging.GetBuffer()
	if buf == nil {
		writeJSON(w, http.StatusOK, []logging.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, buf.Tail(n))
}

// startCameraHandler serves POST /api/camera/<id>/start.
func (s *Server) startCameraHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.fleet.Start(id); err != nil {
		writeJSON(w, apperrors.HTTPStatus(err), OKResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// stopCameraHandler serves POST /api/camera/<id>/stop.
func (s *Server) stopCameraHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.fleet.Stop(id, 0); err != nil {
		writeJSON(w, apperrors.HTTPStatus(err), OKResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// startAllHandler serves POST /api/start_all.
func (s *Server) startAllHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BulkResponse{Results: outcomesToResults(s.fleet.StartAll())})
}

// stopAllHandler serves POST /api/stop_all.
func (s *Server) stopAllHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BulkResponse{Results: outcomesToResults(s.fleet.StopAll())})
}

func outcomesToResults(outcomes map[string]fleet.Outcome) map[string]string {
	results := make(map[string]string, len(outcomes))
	for id, o := range outcomes {
		if o.OK {
			results[id] = "ok"
		} else {
			results[id] = o.Error
		}
	}
	return results
}

// restartCamerasHandler serves POST /api/system/restart_cameras.
func (s *Server) restartCamerasHandler(w http.ResponseWriter, r *http.Request) {
	results, success := s.fleet.RestartAll()
	resp := RestartResponse{Success: success, Message: "restart completed"}
	if !success {
		resp.Message = "restart completed with errors"
		for id, o := range results {
			if !o.OK {
				resp.Warning = id + ": " + o.Error
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveSegmentPath applies spec.md §6's path validation: filename must
// be a bare name (no separators) resolving to a file inside the source's
// own directory.
func (s *Server) resolveSegmentPath(cameraID, filename string) (string, error) {
	src, ok := s.cfg.Sources[cameraID]
	if !ok {
		return "", &apperrors.NotFound{Kind: "source", ID: cameraID}
	}
	if filename == "" || strings.ContainsAny(filename, "/\\") || filename == "." || filename == ".." {
		return "", &apperrors.PathRejected{Path: filename}
	}
	full := filepath.Join(src.Dir, filename)
	if filepath.Dir(full) != filepath.Clean(src.Dir) {
		return "", &apperrors.PathRejected{Path: filename}
	}
	return full, nil
}

// downloadHandler serves GET /api/download/<id>/<filename>.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveSegmentPath(chi.URLParam(r, "id"), chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, &apperrors.NotFound{Kind: "segment", ID: chi.URLParam(r, "filename")})
		return
	}
	http.ServeFile(w, r, path)
}

// deleteHandler serves DELETE /api/delete/<id>/<filename>.
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveSegmentPath(chi.URLParam(r, "id"), chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, &apperrors.NotFound{Kind: "segment", ID: chi.URLParam(r, "filename")})
			return
		}
		writeJSON(w, http.StatusOK, OKResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// transcodingStatusHandler serves GET /api/transcoding/status.
func (s *Server) transcodingStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusOK, TranscodingStatusResponse{})
		return
	}
	progress := s.engine.CurrentProgress()
	writeJSON(w, http.StatusOK, TranscodingStatusResponse{
		Enabled:          s.engine.IsEnabled(),
		Running:          progress != nil,
		CurrentFile:      progress,
		Stats:            s.engine.Stats(),
		InScheduleWindow: s.engine.InScheduleWindow(),
	})
}

// transcodingEnableHandler serves POST /api/transcoding/enable. With
// ?force=true it also drains every untranscoded file immediately rather
// than waiting for the next scheduled scan (§12's force-transcode-now).
func (s *Server) transcodingEnableHandler(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, &apperrors.NotFound{Kind: "transcoder", ID: "engine"})
		return
	}
	s.engine.Enable()
	if r.URL.Query().Get("force") == "true" {
		// net/http cancels r.Context() the instant this handler returns, which
		// happens right after this goroutine is spawned — use a server-lifetime
		// context so the drain actually runs instead of aborting near-instantly.
		go func() {
			if err := s.engine.ForceScanAndQueue(context.Background()); err != nil {
				s.logger.Error("forced transcode scan failed", "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// transcodingDisableHandler serves POST /api/transcoding/disable. The
// file currently being re-encoded, if any, is allowed to finish.
func (s *Server) transcodingDisableHandler(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, &apperrors.NotFound{Kind: "transcoder", ID: "engine"})
		return
	}
	s.engine.Disable()
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
