package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	// shutdownTimeout bounds graceful shutdown of in-flight scrapes.
	shutdownTimeout = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

const indexPage = `UniFi Prometheus Exporter

Endpoints:
  /metrics  - Prometheus metrics
  /health   - Health check
`

// Server serves the exporter's HTTP endpoints.
//
//   - GET /metrics: the registry in Prometheus text exposition format
//   - GET /health, GET /-/healthy: liveness, "OK" once listening
//   - GET /: plain-text index
//
// Scrapes read whatever the registry's collectors hold at that moment; they
// never trigger or wait for a poll.
type Server struct {
	gatherer   prometheus.Gatherer
	addr       string
	logger     zerolog.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a [Server] that will listen on addr (host:port; ":0"
// picks a free port) and expose gatherer at /metrics.
//
// The server is not started until [Server.Start] is called.
func NewServer(gatherer prometheus.Gatherer, addr string, logger zerolog.Logger) *Server {
	return &Server{
		gatherer: gatherer,
		addr:     addr,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the router. It is exposed for tests and for embedding the
// exporter into another server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", handleIndex)
	r.Get("/health", handleHealth)
	r.Get("/-/healthy", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{s.logger},
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return r
}

// Start binds the listener and serves in a background goroutine.
//
// Start returns as soon as the port is bound, so a bind failure is reported
// synchronously. When ctx is cancelled the server shuts down gracefully with
// a 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// requestLogger logs each request at debug level; scrapes are frequent.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request completed")
	})
}

// promLogger adapts zerolog to promhttp's error logger.
type promLogger struct {
	logger zerolog.Logger
}

func (l promLogger) Println(v ...any) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
