// Package ipc serves the control API over a Unix socket with restrictive
// filesystem permissions, and provides the client the CLI uses to call it.
package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SocketServer hosts an HTTP handler on a Unix socket owned by the user.
type SocketServer struct {
	path     string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	log      logrus.FieldLogger

	// mu guards start/stop operations.
	mu sync.Mutex
}

// NewSocketServer creates a server for path. If logger is nil, the
// standard logger is used.
func NewSocketServer(path string, handler http.Handler, logger logrus.FieldLogger) *SocketServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SocketServer{
		path:    path,
		handler: handler,
		log:     logger.WithField("component", "ipc"),
	}
}

// Path returns the socket path.
func (s *SocketServer) Path() string { return s.path }

// Start begins listening. Stale socket files are removed, but Start fails if
// another process is serving on the path.
func (s *SocketServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("control socket already started")
	}
	if s.path == "" {
		return fmt.Errorf("control socket path is empty")
	}
	if err := validateSocketPath(s.path); err != nil {
		return err
	}
	if s.handler == nil {
		return fmt.Errorf("control socket handler is nil")
	}

	if err := s.prepareSocketDir(); err != nil {
		return err
	}
	if err := s.ensureSocketAvailable(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		_ = os.Remove(s.path)
		return fmt.Errorf("failed to set control socket permissions: %w", err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Control socket server stopped")
		}
	}()

	s.log.WithField("path", s.path).Info("Control socket listening")
	return nil
}

// Stop shuts down the server and removes the socket file.
func (s *SocketServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	var stopErr error
	if s.server != nil {
		if err := s.server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopErr = fmt.Errorf("failed to stop control socket server: %w", err)
		}
	}
	_ = s.listener.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && stopErr == nil {
		stopErr = fmt.Errorf("failed to remove control socket: %w", err)
	}

	s.server = nil
	s.listener = nil
	return stopErr
}

func (s *SocketServer) prepareSocketDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create control socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to set control socket directory permissions: %w", err)
	}
	return nil
}

func (s *SocketServer) ensureSocketAvailable() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat control socket: %w", err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("control socket path is not a socket: %s", s.path)
	}

	conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("control socket already in use: %s", s.path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied accessing control socket: %w", err)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale control socket: %w", err)
	}
	return nil
}
