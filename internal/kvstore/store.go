// Package kvstore provides a small shared key-value abstraction used for the
// stats cache, log-query rate counters, and session resolution.
//
// The default backend is in-process memory, which is correct for a single
// instance. Multi-instance deployments should select the Redis backend so
// counters and sessions are shared; per-instance memory stores would
// otherwise multiply effective rate limits.
package kvstore

import (
	"context"
	"errors"
	"time"

	"watchpost/internal/config"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the backend-neutral contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the counter at key and returns the new
	// value. A fresh counter starts at 1 and receives the ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// New builds a Store from configuration.
func New(cfg config.KVStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return NewMemoryStore(), nil
	}
}
