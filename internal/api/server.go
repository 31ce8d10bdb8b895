// Package api provides the HTTP read surface over the derived caches.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-pulse/internal/cache"
	"github.com/portfolio-pulse/internal/logging"
	"github.com/portfolio-pulse/internal/models"
)

// ChartProviderInterface serves chart cache entries read-through.
type ChartProviderInterface interface {
	GetOrCompute(ctx context.Context, userID string, period models.Period) (*models.ChartCacheEntry, error)
}

// LeaderboardInterface serves cached leaderboards.
type LeaderboardInterface interface {
	Get(ctx context.Context, period models.Period) (*models.LeaderboardCacheEntry, error)
}

// RegeneratorInterface is the administrative full-rebuild trigger.
type RegeneratorInterface interface {
	ForceRegenerate(ctx context.Context) (cache.BatchSummary, error)
}

// HealthChecker reports a dependency's reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	charts       ChartProviderInterface
	leaderboards LeaderboardInterface
	regenerator  RegeneratorInterface
	health       map[string]HealthChecker
	config       *ServerConfig
	logger       *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance. health maps dependency names
// to their ping checks; the health endpoint reports each one.
func NewServer(
	config *ServerConfig,
	charts ChartProviderInterface,
	leaderboards LeaderboardInterface,
	regenerator RegeneratorInterface,
	health map[string]HealthChecker,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		charts:       charts,
		leaderboards: leaderboards,
		regenerator:  regenerator,
		health:       health,
		config:       config,
		logger:       logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/users/{userID}/chart/{period}", s.handleGetChart).Methods("GET")
	api.HandleFunc("/leaderboard/{period}", s.handleGetLeaderboard).Methods("GET")
	api.HandleFunc("/admin/regenerate", s.handleRegenerate).Methods("POST")
}

// handleHealth reports service liveness and per-dependency reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		if err := checker.Ping(ctx); err != nil {
			deps[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":       healthWord(status),
		"service":      "portfolio-pulse",
		"dependencies": deps,
	})
}

func healthWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
