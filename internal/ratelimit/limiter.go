// Package ratelimit implements a fixed-window per-account request limiter
// backed by the shared kv store, so the limit holds across server instances
// when Redis is configured.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"watchpost/internal/kvstore"
)

// Limiter allows up to PerSecond requests per key per wall-clock second.
type Limiter struct {
	store     kvstore.Store
	perSecond int64
}

func New(store kvstore.Store, perSecond int) *Limiter {
	if perSecond < 1 {
		perSecond = 1
	}
	return &Limiter{store: store, perSecond: int64(perSecond)}
}

// Allow reports whether one more request may proceed for the key right now.
// A kv store failure fails open: availability beats strictness here.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	window := time.Now().Unix()
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	// 2s TTL keeps the previous window around just long enough to expire
	count, err := l.store.Incr(ctx, counterKey, 2*time.Second)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
		return true
	}
	return count <= l.perSecond
}
