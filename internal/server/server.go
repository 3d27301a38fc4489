package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webrender/webrender/internal/config"
	"github.com/webrender/webrender/internal/render"
)

// Server is the webrender HTTP service.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	handlers *Handlers
	gatherer prometheus.Gatherer
	onStop   []func(context.Context) error

	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithGatherer serves gatherer's metrics on /metrics when metrics are enabled.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithShutdownHook runs fn after the listener has drained, for example to
// close the browser.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(s *Server) { s.onStop = append(s.onStop, fn) }
}

// New creates a server rendering through renderer.
func New(cfg config.ServerConfig, renderer render.Renderer, logger *zap.Logger, version string, opts ...Option) *Server {
	logger = logger.Named("server")
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: NewHandlers(logger, renderer, cfg.BaseURL(), version),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	s.handlers.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			burst := s.cfg.RateBurst
			if burst < 1 {
				burst = 1
			}
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst), s.logger))
		}
		r.Post("/render", s.handlers.HandleRender)
	})

	if s.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves until ctx is done, then drains in-flight requests and runs
// the shutdown hooks.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("API is listening.", zap.String("address", s.cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down gracefully.")
	case err = <-serverErr:
		if err != nil {
			err = fmt.Errorf("http server failed: %w", err)
		}
	}
	return errors.Join(err, s.shutdown())
}

func (s *Server) shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	for _, fn := range s.onStop {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
