package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const baseUrlV1 = "/api/v1"

// Server exposes Prometheus metrics over HTTP with graceful shutdown.
// It serves two endpoints:
//   - GET /api/v1/metrics -- Prometheus exposition (DefaultGatherer)
//   - GET /api/v1/health  -- trivial liveness check
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a metrics HTTP server for the given "host:port" address.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle(baseUrlV1+"/metrics", promhttp.Handler())
	mux.HandleFunc(baseUrlV1+"/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("metrics: health handler write error: %v", err)
		}
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves HTTP requests on the configured address. It blocks until
// Shutdown is called or a fatal listener error occurs; http.ErrServerClosed
// is treated as a clean stop, not an error.
func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("metrics server not initialized")
	}

	log.Printf("metrics: starting HTTP server on %s", s.addr)

	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: HTTP server error: %w", err)
	}

	log.Println("metrics: HTTP server stopped")
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// validateAddress checks that addr parses as host:port with a numeric port.
func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return errors.New("port must be specified")
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return err
	}
	_ = host // empty host binds all interfaces
	return nil
}
