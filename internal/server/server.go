// Package server orchestrates the startup and shutdown of all Watchpost
// components: SQLite storage, the shared kv store, the monitoring engine,
// and the HTTP API server.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"watchpost/internal/api"
	"watchpost/internal/config"
	"watchpost/internal/core"
	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// Server represents the main Watchpost server orchestrator. Components are
// initialized in dependency order and shut down in reverse.
type Server struct {
	cfg *config.Config
}

// New creates a new server instance with the provided configuration. Nothing
// starts until Start() is called.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Start initializes and runs all server components.
//
// The method blocks until the context is cancelled (shutdown signal) or the
// HTTP server fails, then shuts everything down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Phase 1: storage (everything else depends on it)
	store, err := storage.New(s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close storage")
		}
	}()
	log.Info().Str("path", s.cfg.Storage.Path).Msg("Storage ready")

	// Phase 2: shared kv store (sessions, rate counters, stats cache)
	kv, err := kvstore.New(s.cfg.KVStore)
	if err != nil {
		return fmt.Errorf("kvstore init: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close kv store")
		}
	}()
	log.Info().Str("backend", s.cfg.KVStore.Backend).Msg("KV store ready")

	// Phase 3: monitoring engine
	engine := core.NewEngine(s.cfg, store, kv)

	// Phase 4: HTTP API server
	httpServer := api.NewServer(s.cfg, engine, store, kv)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}
