package server

import (
	"github.com/go-chi/chi/v5"
)

// routes registers every handler from spec.md §6's HTTP surface under the
// /api subrouter passed in by NewServer.
func (s *Server) routes(r chi.Router) {
	r.Get("/status", s.statusHandler)
	r.Get("/cameras", s.camerasHandler)
	r.Get("/recordings", s.recordingsHandler)
	r.Get("/storage", s.storageHandler)
	r.Get("/system/cpu", s.systemCPUHandler)
	r.Get("/system/memory", s.systemMemoryHandler)
	r.Get("/logs", s.logsHandler)

	r.Post("/camera/{id}/start", s.startCameraHandler)
	r.Post("/camera/{id}/stop", s.stopCameraHandler)
	r.Post("/start_all", s.startAllHandler)
	r.Post("/stop_all", s.stopAllHandler)
	r.Post("/system/restart_cameras", s.restartCamerasHandler)

	r.Get("/download/{id}/{filename}", s.downloadHandler)
	r.Delete("/delete/{id}/{filename}", s.deleteHandler)

	r.Get("/transcoding/status", s.transcodingStatusHandler)
	r.Post("/transcoding/enable", s.transcodingEnableHandler)
	r.Post("/transcoding/disable", s.transcodingDisableHandler)
}
