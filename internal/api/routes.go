package api

import (
	"watchpost/internal/api/auth"
	v1 "watchpost/internal/api/v1"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	baseHandler := NewHandler(s.engine, s.storage, s.kv)

	apiGroup := s.router.Group("/api")

	// Base endpoints (no authentication required)
	apiGroup.GET("/ping", baseHandler.Ping)
	apiGroup.GET("/health", baseHandler.Health)

	// Authentication endpoints
	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/login", s.authHandler.Login)
		authGroup.POST("/logout", s.authHandler.Logout)
		authGroup.GET("/me", s.authHandler.Me)
	}

	deps := v1.Deps{
		Engine:     s.engine,
		Storage:    s.storage,
		KV:         s.kv,
		Sessions:   s.sessions,
		LogLimiter: s.logLimiter,
	}

	// Worker endpoints (API key authentication)
	workerGroup := apiGroup.Group("/worker")
	workerGroup.Use(auth.RequireAPIKey(s.storage.Repos))
	v1.SetupWorkerRoutes(workerGroup, deps)

	// Operator endpoints (session authentication)
	v1Group := apiGroup.Group("/v1")
	v1Group.Use(auth.RequireSession(s.sessions))
	v1.SetupRoutes(v1Group, deps)

	// Public quick-link mirror (no authentication)
	v1.SetupPublicRoutes(apiGroup.Group("/public"), deps)
}
