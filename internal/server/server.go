package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ventriloquist/internal/backend"
	"github.com/MrWong99/ventriloquist/internal/health"
	"github.com/MrWong99/ventriloquist/internal/observe"
)

// DefaultShutdownTimeout bounds the graceful drain of in-flight requests.
const DefaultShutdownTimeout = 15 * time.Second

// Server is the conversation backend HTTP server. It routes:
//
//	/api/conversation  conversation handler
//	GET /healthz       liveness
//	GET /readyz        provider readiness
//	GET /metrics       Prometheus scrape endpoint
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	certFile        string
	keyFile         string
}

// Config holds the listener settings.
type Config struct {
	// Addr is the TCP listen address, e.g. ":3000".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Zero selects
	// [DefaultShutdownTimeout].
	ShutdownTimeout time.Duration

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// New wires conv, the health handler and the metrics endpoint behind the
// tracing and logging middleware.
func New(cfg Config, conv http.Handler, checks *health.Handler, m *observe.Metrics) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.Handle(backend.Path, conv)
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           observe.Middleware(m)(mux),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		certFile:        cfg.CertFile,
		keyFile:         cfg.KeyFile,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tls := s.certFile != "" && s.keyFile != ""
		slog.Info("server: listening", "addr", ln.Addr().String(), "tls", tls)
		var err error
		if tls {
			err = s.srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			err = s.srv.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		slog.Info("server: shutting down")
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			_ = s.srv.Close()
			return err
		}
		return nil
	})
	return g.Wait()
}
