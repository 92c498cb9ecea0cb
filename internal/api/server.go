package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/simguard/internal/analysis"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/metrics"
	"github.com/opensource-finance/simguard/internal/rules"
	"github.com/opensource-finance/simguard/internal/session"
)

// Deps are the collaborators the API serves from. Repo, Cache and Bus may be
// nil; the endpoints that need them answer 503.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Session  *session.Store
	Analysis *analysis.Service

	// AsyncAnalysis reports whether a worker consumes analysis requests.
	AsyncAnalysis bool
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, version, cfg.MaxUploadBytes)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Dataset workflow
	router.Post("/upload", handler.Upload)
	router.Post("/analyze", handler.Analyze)
	router.Get("/results", handler.Results)
	router.Get("/results/{userID}", handler.UserResult)
	router.Get("/status", handler.Status)
	router.Post("/clear", handler.Clear)
	router.Get("/report", handler.Report)

	// Single subscriber scoring
	router.Post("/evaluate", handler.Evaluate)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Policy management
	router.Get("/policy", handler.GetPolicy)
	router.Put("/policy", handler.UpdatePolicy)
	router.Get("/policy/versions", handler.ListPolicyVersions)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
