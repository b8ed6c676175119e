package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/accounts/internal/config"
	"github.com/hongminglow/accounts/internal/http/handlers"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/middleware"
	"github.com/hongminglow/accounts/internal/telemetry"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Accounts interface {
		handlers.AccountService
		middleware.Authenticator
	}
	Store   handlers.Pinger
	Limiter middleware.RateLimiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// NewHandler builds the routed and instrumented handler.
func NewHandler(cfg config.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(time.Now(), deps.Store, deps.Logger)
	health.Register(mux)
	accounts := handlers.NewAccountHandler(deps.Accounts, deps.Logger,
		middleware.RateLimit(deps.Limiter, deps.Metrics, cfg.TrustProxyHeaders),
		middleware.RequireAuth(deps.Accounts, deps.Logger),
	)
	accounts.Register(mux)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	handler := middleware.Chain(mux,
		middleware.CORS(cfg.CORSOrigins),
		middleware.Logging(deps.Logger),
		middleware.Metrics(deps.Metrics),
	)
	return telemetry.WrapHandler(handler, cfg.ServiceName)
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewHandler(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
