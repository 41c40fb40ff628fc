package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter constructs the HTTP handler serving the agent protocol.
//
// Routes:
//
//	GET  /v1/ping     → Handler.Ping     (liveness, lock-independent)
//	GET  /v1/status   → Handler.Status
//	GET  /v1/secrets  → Handler.Secrets
//	GET  /v1/list     → Handler.List     (names only, never values)
//	POST /v1/lock     → Handler.Lock
//
// Unknown paths and methods get JSON error bodies; a malformed request
// never affects other connections.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestLogging(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Get("/status", h.Status)
		r.Get("/secrets", h.Secrets)
		r.Get("/list", h.List)
		r.Post("/lock", h.Lock)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown operation"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return r
}
