// Package server runs the HTTP side of the serve command: the job action
// API and the health probes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobq/pkg/admin"
	"github.com/dmitrymomot/jobq/pkg/health"
	"github.com/dmitrymomot/jobq/pkg/logger"
)

const (
	defaultAddress           = ":8080"
	defaultShutdownTimeout   = 30 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
)

// Server serves the action API.
type Server struct {
	logger          *slog.Logger
	checks          health.Checks
	address         string
	apiToken        string
	shutdownTimeout time.Duration
	shutdownHooks   []func(context.Context) error
	middlewares     []func(http.Handler) http.Handler
	ready           chan string
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the listen address. Default: ":8080".
func WithAddress(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.address = addr
		}
	}
}

// WithAPIToken requires the token on every action request.
func WithAPIToken(token string) Option {
	return func(s *Server) {
		s.apiToken = token
	}
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHealthCheck adds a named readiness check.
func WithHealthCheck(name string, fn health.CheckFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.checks[name] = fn
		}
	}
}

// WithMiddleware appends router middlewares, run after request id and
// panic recovery.
func WithMiddleware(mws ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithShutdownTimeout bounds the graceful shutdown. Default: 30 seconds.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithShutdownHook registers a cleanup function run after the HTTP server
// stopped. Hooks run in registration order.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(s *Server) {
		if fn != nil {
			s.shutdownHooks = append(s.shutdownHooks, fn)
		}
	}
}

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{
		logger:          logger.NewNope(),
		checks:          health.Checks{},
		address:         defaultAddress,
		shutdownTimeout: defaultShutdownTimeout,
		ready:           make(chan string, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router for svc.
func (s *Server) Handler(svc *admin.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.middlewares...)

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(s.checks, health.WithLogger(s.logger)))

	admin.Mount(r, svc,
		admin.WithToken(s.apiToken),
		admin.WithHandlerLogger(s.logger),
	)
	return r
}

// Ready receives the bound address once the server listens.
func (s *Server) Ready() <-chan string { return s.ready }

// Run serves svc until ctx is cancelled, then shuts down gracefully and runs
// the shutdown hooks.
func (s *Server) Run(ctx context.Context, svc *admin.Service) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(svc),
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.ready <- ln.Addr().String()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, hook := range s.shutdownHooks {
		if err := hook(shutdownCtx); err != nil {
			errs = append(errs, err)
			s.logger.Error("shutdown hook failed", slog.String("error", err.Error()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("shutdown completed")
	return nil
}
