// Package core provides the domain engine for Watchpost.
//
// The engine is responsible for:
//   - Recording heartbeats and deriving crawler status
//   - Managing the command queue
//   - Enforcing log retention quotas
//   - Resolving effective crawler configuration
//   - Aggregating log statistics
//
// Everything runs synchronously on the request that triggered it; there are
// no background jobs.
package core

import (
	"watchpost/internal/alert"
	"watchpost/internal/config"
	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

// Engine bundles the domain operations over one storage and kv store pair.
type Engine struct {
	cfg    *config.Config
	store  *storage.Storage
	repos  *storage.Repositories
	kv     kvstore.Store
	alerts *alert.Engine
}

// NewEngine creates the domain engine with the given configuration.
func NewEngine(cfg *config.Config, store *storage.Storage, kv kvstore.Store) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		repos:  store.Repos,
		kv:     kv,
		alerts: alert.NewEngine(cfg.Alert, store.Repos),
	}
}

// Repos exposes the repository set for handlers that need direct reads.
func (e *Engine) Repos() *storage.Repositories {
	return e.repos
}

// Storage exposes the storage layer for raw queries.
func (e *Engine) Storage() *storage.Storage {
	return e.store
}

// KV exposes the shared key-value store.
func (e *Engine) KV() kvstore.Store {
	return e.kv
}

// Config exposes the loaded configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
