package httpserver

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PortNumber53/tubesum/backend/internal/auth"
	"github.com/PortNumber53/tubesum/backend/internal/config"
	"github.com/PortNumber53/tubesum/backend/internal/handlers"
	requesttracking "github.com/PortNumber53/tubesum/backend/internal/middleware"
	"github.com/PortNumber53/tubesum/backend/internal/worker"
)

// Deps are the collaborators the router serves. Nil optional fields disable
// their routes.
type Deps struct {
	DB          handlers.Pinger
	Verifier    *auth.Verifier
	Billing     *handlers.BillingHandler
	Summaries   *handlers.SummaryHandler
	Reconciler  handlers.EventReconciler
	VerifyEvent handlers.EventVerifier
	Worker      *worker.Worker

	// Registry receives HTTP metrics and backs /metrics. Nil uses the
	// Prometheus default registry.
	Registry *prometheus.Registry
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) (*Server, error) {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}

	requestTracker, err := requesttracking.NewRequestTracker(registerer)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(requestTracker.Middleware())

	router.Get("/healthz", handlers.Health(deps.DB))
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Stripe authenticates webhooks by signature, not by user token.
	if deps.Reconciler != nil && deps.VerifyEvent != nil {
		router.Post("/api/webhooks/stripe", handlers.StripeWebhook(cfg.StripeWebhookSecret, deps.VerifyEvent, deps.Reconciler))
	}

	if deps.Billing != nil {
		deps.Billing.RegisterAdminRoutes(router)
	}

	router.Group(func(r chi.Router) {
		if deps.Verifier != nil {
			r.Use(deps.Verifier.Middleware)
		}
		if deps.Billing != nil {
			deps.Billing.RegisterRoutes(r)
		}
		if deps.Summaries != nil {
			if deps.Summaries.CreateLimit == nil {
				limiter := requesttracking.NewRateLimiter(cfg.SummaryRateLimit, callerKey)
				deps.Summaries.CreateLimit = limiter.Middleware
			}
			deps.Summaries.RegisterRoutes(r)
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker}, nil
}

// callerKey limits signed-in callers by user id and anonymous ones by address.
func callerKey(r *http.Request) string {
	if userID := auth.UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP rewrites RemoteAddr to a bare address.
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Start starts the worker and begins serving HTTP traffic. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(ctx)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if err := s.worker.Stop(ctx); err != nil {
			log.Printf("[server] Worker shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
