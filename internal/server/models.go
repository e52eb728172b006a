package server

import (
	"time"

	"github.com/smazurov/captured/internal/storage"
	"github.com/smazurov/captured/internal/transcode"
)

// StatusResponse is the GET /api/status aggregate from spec.md §6.
type StatusResponse struct {
	TotalCameras   int                  `json:"total_cameras"`
	Running        int                  `json:"running"`
	Unhealthy      int                  `json:"unhealthy"`
	HealthTier     string               `json:"health_tier"`
	Storage        StorageUsageResponse `json:"storage"`
	Cameras        []ChildStatus        `json:"cameras"`
	TranscoderBusy bool                 `json:"transcoder_busy"`
}

// ChildStatus is one source's per-child PID/CPU/mem snapshot within
// StatusResponse.
type ChildStatus struct {
	ID           string  `json:"id"`
	State        string  `json:"state"`
	PID          int     `json:"pid,omitempty"`
	CPUPercent   float64 `json:"cpu_percent,omitempty"`
	MemoryBytes  uint64  `json:"memory_bytes,omitempty"`
	UptimeSecond float64 `json:"uptime_seconds"`
}

// CameraResponse is one element of GET /api/cameras.
type CameraResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Recording  bool   `json:"recording"`
	Healthy    bool   `json:"healthy"`
	Resolution string `json:"resolution"`
	FrameRate  int    `json:"framerate"`
	Device     string `json:"device"`
}

// RecordingResponse is one element of GET /api/recordings.
type RecordingResponse struct {
	ID       string    `json:"id"`
	Camera   string    `json:"camera"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mtime"`
}

// StorageUsageResponse is the GET /api/storage object.
type StorageUsageResponse struct {
	TotalBytes   uint64                       `json:"total_bytes"`
	FreeBytes    uint64                       `json:"free_bytes"`
	UsedFraction float64                      `json:"used_fraction"`
	PerSource    map[string]storage.SourceUsage `json:"per_source"`
}

// SystemCPUResponse is the GET /api/system/cpu object.
type SystemCPUResponse struct {
	PercentTotal float64   `json:"percent_total"`
	PerCPU       []float64 `json:"per_cpu,omitempty"`
}

// SystemMemoryResponse is the GET /api/system/memory object.
type SystemMemoryResponse struct {
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsedFraction float64 `json:"used_fraction"`
}

// OKResponse is the common `{ok, error?}` shape for single-target
// mutating operations.
type OKResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BulkResponse is the `{results: {id: ok|error}}` shape for start_all and
// stop_all.
type BulkResponse struct {
	Results map[string]string `json:"results"`
}

// RestartResponse is the POST /api/system/restart_cameras response.
type RestartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

// TranscodingStatusResponse is the GET /api/transcoding/status object.
type TranscodingStatusResponse struct {
	Enabled          bool               `json:"enabled"`
	Running          bool               `json:"running"`
	CurrentFile      *transcode.Progress `json:"current_file,omitempty"`
	Stats            transcode.Stats    `json:"stats"`
	InScheduleWindow bool               `json:"in_schedule_window"`
}
