// Package chassis is the shared HTTP service frame for the Monlight
// binaries: a chi router with an unauthenticated /health route, an
// http.Server with sane timeouts, graceful drain on shutdown, and the
// --healthcheck TCP probe used by container orchestrators.
package chassis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/monlight/idgen"
)

// Server wraps an http.Server around a chi router.
type Server struct {
	addr   string
	logger *slog.Logger
	router *chi.Mux
	srv    *http.Server

	// DrainTimeout bounds graceful shutdown. Default 5s, within Docker's
	// 10s stop grace.
	DrainTimeout time.Duration
}

// New creates a Server listening on addr. The /health route is registered
// before any middleware so it bypasses auth and rate limiting.
func New(logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID(idgen.UUIDv7()))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &Server{
		addr:         addr,
		logger:       logger,
		router:       r,
		DrainTimeout: 5 * time.Second,
	}
}

// Router exposes the underlying router for route registration.
func (s *Server) Router() chi.Router { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most DrainTimeout. A clean drain returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.DrainTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// requestID stamps every response with an X-Request-ID so upstream
// callers and log lines can correlate.
func requestID(gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-ID", gen())
			next.ServeHTTP(w, r)
		})
	}
}

// Probe opens a TCP connection to 127.0.0.1:port, requests /health, and
// returns nil iff the raw response contains "200". It is the body of the
// --healthcheck CLI mode.
func Probe(port string) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", port), 3*time.Second)
	if err != nil {
		return fmt.Errorf("healthcheck: dial: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := fmt.Fprintf(conn, "GET /health HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n"); err != nil {
		return fmt.Errorf("healthcheck: write: %w", err)
	}

	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	if !strings.Contains(string(buf[:n]), "200") {
		return fmt.Errorf("healthcheck: unhealthy response")
	}
	return nil
}
