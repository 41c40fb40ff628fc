// Package server implements the agent's IPC endpoint: a chi router served
// over a local unix domain socket, dispatching protocol requests against
// the session manager.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lazylocker/lazylocker/internal/secmem"
	"github.com/lazylocker/lazylocker/internal/session"
)

// SessionService defines the session operations required by the handler.
type SessionService interface {
	// Status reports the lock state and remaining TTL.
	Status() (locked bool, remaining time.Duration)
	// ReadAll returns a copy of the decrypted secrets, or
	// session.ErrLocked when no session is active.
	ReadAll() (map[string][]byte, error)
	// Keys returns the sorted secret names without values, or
	// session.ErrLocked when no session is active.
	Keys() ([]string, error)
	// Lock ends the session immediately.
	Lock()
}

// Handler serves the agent protocol operations.
type Handler struct {
	Session SessionService
}

// statusResponse is the wire form of the status operation.
type statusResponse struct {
	Locked           bool   `json:"locked"`
	TTLRemainingSecs uint64 `json:"ttl_remaining_secs"`
}

// secretsResponse is the wire form of the inject-secrets operation.
type secretsResponse struct {
	Secrets map[string]string `json:"secrets"`
	Count   int               `json:"count"`
}

// listResponse is the wire form of the names-only list operation.
type listResponse struct {
	Names []string `json:"names"`
	Count int      `json:"count"`
}

type okResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Ping handles GET /v1/ping. It succeeds whenever the agent process is
// alive, independent of lock state.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

// Status handles GET /v1/status, reporting the lock state and the
// remaining TTL in whole seconds.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	locked, remaining := h.Session.Status()
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Locked:           locked,
		TTLRemainingSecs: uint64(remaining / time.Second),
	})
}

// Secrets handles GET /v1/secrets. While a session is active it returns
// the full decrypted mapping and its cardinality; when locked it returns
// 423 with a typed error body the client can tell apart from a transport
// failure.
func (h *Handler) Secrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.Session.ReadAll()
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			writeJSON(w, http.StatusLocked, errorResponse{Error: "session locked"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	out := make(map[string]string, len(secrets))
	for name, value := range secrets {
		out[name] = string(value)
	}
	writeJSON(w, http.StatusOK, secretsResponse{Secrets: out, Count: len(out)})

	// Drop our copy eagerly; the response buffer itself is transient.
	secmem.ZeroMap(secrets)
}

// List handles GET /v1/list, returning the secret names without their
// values so clients can enumerate keys without pulling secret material
// across the socket.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.Session.Keys()
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			writeJSON(w, http.StatusLocked, errorResponse{Error: "session locked"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Names: names, Count: len(names)})
}

// Lock handles POST /v1/lock, ending the session immediately for every
// client.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.Session.Lock()
	writeJSON(w, http.StatusOK, okResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
