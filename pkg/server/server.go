// Package server exposes log sources and live tails over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/predatorx7/logpulse/pkg/auth"
	"github.com/predatorx7/logpulse/pkg/source"
	"github.com/predatorx7/logpulse/pkg/stream"
)

// Server serves the log API for one source registry.
type Server struct {
	registry *source.Registry
	hub      *stream.Hub
	gate     *auth.Gate
	log      zerolog.Logger
	started  time.Time
}

// New creates a Server. Streams are opened through hub and every /logs route
// passes through gate.
func New(registry *source.Registry, hub *stream.Hub, gate *auth.Gate, log zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		hub:      hub,
		gate:     gate,
		log:      log.With().Str("component", "server").Logger(),
		started:  time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.With(requestLogger(s.log)).Get("/status", s.handleStatus)

	r.Route("/logs", func(r chi.Router) {
		// The gate runs first so request logs carry the verified client id.
		r.Use(s.gate.Middleware)
		r.Use(requestLogger(s.log))

		r.Get("/sources", s.handleSources)
		r.Get("/groups", s.handleGroups)
		r.Get("/get_logs", s.handleGetLogs)
		r.Get("/stream", s.handleStream)
		r.Get("/download", s.handleDownload)
	})
	return r
}

// NewHTTPServer wraps the router in an http.Server. There is no write
// timeout: streams stay open until the client leaves.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	stream.Stats
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Stats:  s.hub.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				if id, ok := auth.ClientID(r.Context()); ok {
					ev = ev.Str("client", id)
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
