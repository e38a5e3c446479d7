package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"watchpost/internal/api/auth"
	"watchpost/internal/config"
	"watchpost/internal/core"
	"watchpost/internal/kvstore"
	"watchpost/internal/ratelimit"
	"watchpost/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	config      config.ServerConfig
	engine      *core.Engine
	storage     *storage.Storage
	kv          kvstore.Store
	sessions    *auth.SessionManager
	authHandler *auth.Handler
	logLimiter  *ratelimit.Limiter
	router      *gin.Engine
	server      *http.Server
}

// NewServer creates a new HTTP API server instance.
func NewServer(cfg *config.Config, engine *core.Engine, store *storage.Storage, kv kvstore.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	sessions := auth.NewSessionManager(kv, store.Repos, auth.DefaultSessionTTL)

	server := &Server{
		config:      cfg.Server,
		engine:      engine,
		storage:     store,
		kv:          kv,
		sessions:    sessions,
		authHandler: auth.NewHandler(store.Repos, sessions),
		logLimiter:  ratelimit.New(kv, cfg.Logs.QueryRatePerSecond),
		router:      gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server
}

// Router exposes the configured router for in-process testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and begins listening for requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// setupMiddleware configures middleware for the Gin router.
func (s *Server) setupMiddleware() {
	// Request ID middleware (should be first)
	s.router.Use(RequestID())

	// Custom panic recovery middleware
	s.router.Use(PanicRecovery())

	// Security headers
	s.router.Use(SecurityHeaders())

	// Custom logger middleware
	s.router.Use(LoggerMiddleware())

	// Error handling middleware
	s.router.Use(ErrorHandler())
}
