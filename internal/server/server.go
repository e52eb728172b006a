// Package server exposes the HTTP control surface from spec.md §6: camera
// status and control, recordings listing/download/delete, storage and host
// metrics, log tailing, and the re-encoder's status/enable/disable routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/smazurov/captured/internal/config"
	"github.com/smazurov/captured/internal/fleet"
	"github.com/smazurov/captured/internal/logging"
	"github.com/smazurov/captured/internal/metrics"
	"github.com/smazurov/captured/internal/storage"
	"github.com/smazurov/captured/internal/transcode"
)

const apiTimeout = 30 * time.Second

// Server wraps a chi.Mux over the fleet controller, storage manager, and
// re-encoder engine. engine may be nil when the re-encoder is disabled at
// startup; the transcoding routes then report it as unconfigured.
type Server struct {
	cfg     *config.Config
	fleet   *fleet.Fleet
	storage *storage.Manager
	engine  *transcode.Engine
	logger  logging.Logger

	router     *chi.Mux
	httpServer *http.Server
}

// NewServer builds a Server with every route registered, ready for Start.
func NewServer(cfg *config.Config, f *fleet.Fleet, s *storage.Manager, engine *transcode.Engine, logger logging.Logger) *Server {
	srv := &Server{cfg: cfg, fleet: f, storage: s, engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(uuidRequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.accessLog)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Timeout(apiTimeout))
		srv.routes(apiRouter)
	})
	r.Get("/metrics/prometheus", metrics.Handler().ServeHTTP)

	srv.router = r
	return srv
}

// accessLog is chi's request-ID/duration/status logging idiom rewritten to
// log through the module's slog-backed logger instead of stdlib log, since
// middleware.Logger writes straight to os.Stderr.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		}
		switch {
		case ww.Status() >= 500:
			s.logger.Error("http request", fields...)
		case ww.Status() >= 400:
			s.logger.Warn("http request", fields...)
		default:
			s.logger.Info("http request", fields...)
		}
	})
}

// uuidRequestID replaces chi's own incrementing-counter request ID with a
// uuid, so an access log line can be correlated with an operator's report
// of a single request across process restarts without a counter reset.
func uuidRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start blocks serving HTTP on addr until the listener fails or Stop
// closes it out from under ListenAndServe.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("http server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down within the supplied context's
// deadline, part of the shutdown cascade in spec.md §5.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("http server stopping")
	return s.httpServer.Shutdown(ctx)
}
