package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server serves the metrics and health endpoints.
type Server struct {
	httpServer *http.Server
	checker    *HealthChecker
	port       int
}

// NewServer creates an observability server on the given port.
func NewServer(port int, checker *HealthChecker) *Server {
	if checker == nil {
		checker = NewHealthChecker()
	}
	return &Server{port: port, checker: checker}
}

// Start blocks serving /metrics and /health until Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.checker.Handler())
	mux.Handle("/metrics", MetricsHandler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
