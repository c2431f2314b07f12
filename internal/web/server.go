// Package web serves the tracker HTTP API: health, Prometheus metrics, the
// read-only reports and batch extracts submitted over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tracker/internal/config"
	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/logging"
	"github.com/JonMunkholm/tracker/internal/store"
	"github.com/JonMunkholm/tracker/internal/web/middleware"
)

// Server is the HTTP server.
type Server struct {
	cfg     *config.Config
	store   store.Store
	batch   *core.BatchDriver
	limiter *core.RunLimiter
	rate    *middleware.RateLimiter
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires the routes for st. Batch runs submitted over HTTP go
// through the bulk strategy, at most cfg.Batch.MaxConcurrent at a time.
func NewServer(cfg *config.Config, st store.Store) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		batch:   core.NewBatchDriver(store.Bulk(st), cfg.Batch.Timeout),
		limiter: core.NewRunLimiter(cfg.Batch.MaxConcurrent, cfg.Batch.MaxWaitTime),
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.rate = middleware.NewRateLimiter(cfg.Rate.RequestsPerMinute, time.Minute)
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(requestContext)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))
		if s.rate != nil {
			r.Use(s.rate.Middleware)
		}

		// Reads are bounded by the request timeout; batch runs carry their own.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/reports/status", s.handleStatusDistribution)
			r.Get("/reports/delivery-time", s.handleDeliveryTime)
			r.Get("/reports/totals", s.handleTotals)
			r.Get("/packages/{packageID}", s.handlePackageHistory)
		})

		r.Post("/batch", s.handleBatch)
	})
}

// Start listens on the configured address until Shutdown is called.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	logging.FromContext(context.Background()).Info("http server listening",
		"addr", s.server.Addr,
		"engine", s.store.Engine(),
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight batch runs to
// finish, and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rate != nil {
		s.rate.Stop()
	}
	err := s.server.Shutdown(ctx)
	if derr := s.limiter.WaitForDrain(ctx); derr != nil && err == nil {
		err = derr
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds hardening headers to every response. The API serves
// JSON only, so the content policy denies everything.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
