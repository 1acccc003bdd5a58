package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBodySize = 1 << 20

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles HTTP requests and webhook events
type Server struct {
	router     *chi.Mux
	verifier   *Verifier
	reconciler *Reconciler
	db         Pinger
}

// NewServer creates a new HTTP server instance with all routes registered
func NewServer(verifier *Verifier, reconciler *Reconciler, db Pinger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		verifier:   verifier,
		reconciler: reconciler,
		db:         db,
	}
	s.RegisterRoutes()
	return s
}

// Start serves HTTP on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeHTTP dispatches the request to the router
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterRoutes registers all HTTP routes
func (s *Server) RegisterRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Post("/webhooks/clerk", s.handleWebhook)
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the directory database is reachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		logger.Warn("Database not ready", zap.Error(err))
		http.Error(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleWebhook verifies a provider delivery and applies it to the directory
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		logger.Warn("Failed to read request body", zap.Error(err))
		webhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		http.Error(w, "Error verifying webhook", http.StatusBadRequest)
		return
	}

	event, err := s.verifier.Verify(r.Header, body)
	if errors.Is(err, ErrUnsupportedEvent) {
		logger.Debug("Ignoring event", zap.Error(err))
		webhookEventsTotal.WithLabelValues("other", "ignored").Inc()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Event ignored"))
		return
	}
	if err != nil {
		logger.Warn("Webhook verification failed", zap.Error(err))
		webhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		http.Error(w, "Error verifying webhook", http.StatusBadRequest)
		return
	}

	kind := event.Kind()
	logger.Info("Webhook event received",
		zap.Stringer("type", kind),
		zap.String("externalId", event.ExternalUserID()))

	outcome, err := s.reconciler.Apply(r.Context(), event)
	if err != nil {
		webhookEventsTotal.WithLabelValues(kind.String(), "failed").Inc()
		logger.Error("Failed to apply event",
			zap.Stringer("type", kind),
			zap.String("externalId", event.ExternalUserID()),
			zap.Error(err))

		if kind == EventDeleted {
			http.Error(w, "Error deleting user", http.StatusBadRequest)
			return
		}
		http.Error(w, "Error saving user", http.StatusInternalServerError)
		return
	}

	webhookEventsTotal.WithLabelValues(kind.String(), string(outcome)).Inc()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}
