package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/card-capture/ccd/internal/auth"
	"github.com/card-capture/ccd/internal/fields"
)

// Server is the operator HTTP API server.
type Server struct {
	httpServer     *http.Server
	workflow       WorkflowPort
	captureMgr     CapturePort
	fieldRegistry  FieldPort
	configStore    ConfigPort
	telemetryHub   TelemetryPort
	recognizer     fields.Recognizer
	keyHandler     KeyPort
	authMiddleware *auth.Middleware
	startTime      time.Time
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

// NewServer creates an API server without authentication.
func NewServer(workflow WorkflowPort, captureMgr CapturePort, fieldRegistry FieldPort,
	configStore ConfigPort, telemetryHub TelemetryPort,
	readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	return &Server{
		workflow:      workflow,
		captureMgr:    captureMgr,
		fieldRegistry: fieldRegistry,
		configStore:   configStore,
		telemetryHub:  telemetryHub,
		startTime:     time.Now(),
		readTimeout:   readTimeout,
		writeTimeout:  writeTimeout,
		idleTimeout:   idleTimeout,
	}
}

// NewServerWithAuth creates an API server with authentication middleware.
func NewServerWithAuth(workflow WorkflowPort, captureMgr CapturePort, fieldRegistry FieldPort,
	configStore ConfigPort, telemetryHub TelemetryPort, authMiddleware *auth.Middleware,
	readTimeout, writeTimeout, idleTimeout time.Duration) *Server {
	s := NewServer(workflow, captureMgr, fieldRegistry, configStore, telemetryHub,
		readTimeout, writeTimeout, idleTimeout)
	s.authMiddleware = authMiddleware
	return s
}

// SetRecognizer installs the field value recognizer used by /fields/refresh.
func (s *Server) SetRecognizer(rec fields.Recognizer) {
	s.recognizer = rec
}

// SetKeyHandler installs the keystroke sink used by /cards/keys.
func (s *Server) SetKeyHandler(handler KeyPort) {
	s.keyHandler = handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
