package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Timeouts bound client I/O so a stalled or misbehaving client cannot
// pin a connection. A zero field falls back to the corresponding
// DefaultTimeouts value.
type Timeouts struct {
	// Read bounds reading a full request.
	Read time.Duration
	// Write bounds writing a full response.
	Write time.Duration
	// Idle bounds how long a kept-alive connection may sit between
	// requests.
	Idle time.Duration
}

// DefaultTimeouts are the client I/O bounds used by New.
var DefaultTimeouts = Timeouts{
	Read:  10 * time.Second,
	Write: 10 * time.Second,
	Idle:  30 * time.Second,
}

// Server is the agent's IPC listener. It serves the protocol over a unix
// domain socket restricted to the owning user.
type Server struct {
	socketPath string
	httpServer *http.Server
	logger     *zap.Logger
}

// New constructs a Server listening on socketPath and dispatching against
// the given session service, using DefaultTimeouts.
func New(socketPath string, sess SessionService, logger *zap.Logger) *Server {
	return NewWithTimeouts(socketPath, sess, logger, DefaultTimeouts)
}

// NewWithTimeouts is New with explicit client I/O bounds.
func NewWithTimeouts(socketPath string, sess SessionService, logger *zap.Logger, t Timeouts) *Server {
	if t.Read == 0 {
		t.Read = DefaultTimeouts.Read
	}
	if t.Write == 0 {
		t.Write = DefaultTimeouts.Write
	}
	if t.Idle == 0 {
		t.Idle = DefaultTimeouts.Idle
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		httpServer: &http.Server{
			Handler:      NewRouter(&Handler{Session: sess}, logger),
			ReadTimeout:  t.Read,
			WriteTimeout: t.Write,
			IdleTimeout:  t.Idle,
		},
	}
}

// Serve listens on the unix socket and blocks until ctx is canceled or
// the listener fails. A stale socket file from a previous run is removed
// first. The socket is created with mode 0600 inside a 0700 directory so
// only the owning user can connect. On return the socket file has been
// removed and in-flight requests drained.
func (s *Server) Serve(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	s.logger.Info("agent listening", zap.String("socket", s.socketPath))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown incomplete", zap.Error(err))
		}
		<-errCh
		s.removeSocket()
		return nil
	case err := <-errCh:
		s.removeSocket()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}

func (s *Server) removeSocket() {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove socket", zap.Error(err))
	}
}
