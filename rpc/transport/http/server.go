package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("control")

// ControlServer serves the control endpoints of a member (metrics, status) over HTTP
type ControlServer struct {
	mux      *http.ServeMux
	debug    bool
	server   *http.Server
	listener net.Listener
}

// NewControlServer creates a control server, requests are logged if debug is set
func NewControlServer(debug bool) *ControlServer {
	return &ControlServer{
		mux:   http.NewServeMux(),
		debug: debug,
	}
}

// HandleFunc registers a handler, must be called before Listen
func (s *ControlServer) HandleFunc(pattern string, handler http.HandlerFunc) {
	if s.debug {
		s.mux.HandleFunc(pattern, loggerMiddleware(handler))
	} else {
		s.mux.HandleFunc(pattern, handler)
	}
}

// Listen binds the endpoint and serves requests in the background
func (s *ControlServer) Listen(endpoint string) error {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	Logger.Infof("Starting control server on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Control server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address
func (s *ControlServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down
func (s *ControlServer) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, duration)
	}
}
