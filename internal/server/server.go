package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/requestnet/internal/auth"
	"github.com/mattjoyce/requestnet/internal/config"
	"github.com/mattjoyce/requestnet/internal/feed"
	"github.com/mattjoyce/requestnet/internal/metrics"
	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// Deps are the collaborators of a Server. Feed and Metrics are optional.
type Deps struct {
	Dispatcher webhook.Dispatcher
	Recorder   DeliveryRecorder
	Feed       *feed.Feed
	Metrics    *metrics.Metrics
	Registry   *schema.Registry
	Logger     *slog.Logger
}

// Server is the webhook receiver: it verifies deliveries, dispatches them
// and exposes the recorded history over a small read API.
type Server struct {
	cfg      config.Config
	recorder DeliveryRecorder
	feed     *feed.Feed
	metrics  *metrics.Metrics
	registry *schema.Registry
	tokens   []auth.TokenConfig
	logger   *slog.Logger

	webhook func(http.Handler) http.Handler
	router  *chi.Mux
	server  *http.Server
}

// New builds the server and its routes. It fails when the webhook
// middleware cannot be built, e.g. no secrets and verification enabled.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Recorder == nil {
		return nil, errors.New("server: delivery recorder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = schema.Default()
	}

	s := &Server{
		cfg:      cfg,
		recorder: deps.Recorder,
		feed:     deps.Feed,
		metrics:  deps.Metrics,
		registry: registry,
		logger:   logger.With(slog.String("component", "server")),
	}
	for _, t := range cfg.API.Tokens {
		s.tokens = append(s.tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}

	dispatcher := deps.Dispatcher
	if dispatcher != nil && s.metrics != nil {
		dispatcher = s.metrics.InstrumentDispatcher(dispatcher)
	}

	wh := cfg.Webhook
	mw, err := webhook.NewMiddleware(webhook.MiddlewareOptions{
		Secrets:          wh.Secrets,
		Dispatcher:       dispatcher,
		ErrorHandler:     s.handleWebhookError,
		Logger:           logger.With(slog.String("component", "webhook")),
		SkipVerification: wh.SkipVerification,
		Registry:         registry,
		SignatureHeader:  wh.SignatureHeader,
		TimestampHeader:  wh.TimestampHeader,
		Tolerance:        wh.Tolerance,
		TimestampUnit:    webhook.TimestampUnit(wh.TimestampUnit),
		MaxBodySize:      wh.MaxBodyBytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook middleware: %w", err)
	}
	s.webhook = mw
	s.router = s.setupRoutes()
	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Webhook.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /events streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("webhook receiver starting",
		"listen", s.cfg.Webhook.Listen,
		"path", s.cfg.Webhook.Path,
		"read_api", len(s.tokens) > 0,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook receiver shutting down")
		timeout := s.cfg.Webhook.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook receiver shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook receiver error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.loggingMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware)
	}
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.With(s.webhook).Post(s.cfg.Webhook.Path, s.handleAck)

	// The read API only exists when someone can authenticate against it.
	if len(s.tokens) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.tokens, auth.ScopeDeliveriesRO))
			r.Get("/deliveries", s.handleListDeliveries)
			r.Get("/deliveries/{id}", s.handleGetDelivery)
		})
		if s.feed != nil {
			r.With(auth.Middleware(s.tokens, auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		}
	}

	return r
}

// loggingMiddleware logs each request without its body.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
