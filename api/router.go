// Package api implements the Admin Query API and HTTP ingress wrapper
// (spec §6.1, component C8): the only part of done that speaks HTTP to the
// outside world.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dnlfm/done/observability"
	"github.com/dnlfm/done/store"
)

// Server wires the HTTP surface to the aggregate store.
type Server struct {
	store     store.Store
	authToken string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewServer creates a Server.
func NewServer(st store.Store, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, authToken: authToken, logger: logger}
}

// SetMetrics attaches Prometheus metrics recorded by the ingress and admin
// handlers. Safe to skip; a nil Server.metrics records nothing.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Router builds the chi router with the full route table (spec §6.1).
// Routes are mounted under prefix (e.g. "/v1").
func (s *Server) Router(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route(prefix, func(r chi.Router) {
		// Unauthenticated.
		r.Get("/system/ping", s.ping)

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.authToken))

			r.Post("/messages/*", s.createMessage)
			r.Get("/messages/by-status/{status}", s.listByStatus)
			r.Get("/messages/{id}", s.getMessage)

			r.Get("/admin/stats", s.adminStats)
			r.Get("/admin/raw", s.adminRaw)
			r.Get("/admin/raw/{match}", s.adminRaw)
			r.Get("/admin/logs", s.adminLogs)
			r.Get("/admin/log/{message_id}", s.adminLogByMessage)
			r.Delete("/admin/reset", s.adminReset)
			r.Delete("/admin/reset/{match}", s.adminReset)
			r.Post("/admin/dlq/{id}/replay", s.adminReplayDLQ)

			r.Get("/system/health", s.health)
		})
	})

	return r
}

// requestLogger logs each request's method, path, status, and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
