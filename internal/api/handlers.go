// Package api provides the HTTP surface of the Watchpost service.
//
// Three route families share one router: worker endpoints authenticated by
// API key, operator endpoints authenticated by session token, and the
// unauthenticated public quick-link mirror.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/core"
	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

// Handler manages the unauthenticated service-level endpoints.
type Handler struct {
	engine    *core.Engine
	storage   *storage.Storage
	kv        kvstore.Store
	startTime time.Time
}

func NewHandler(engine *core.Engine, storage *storage.Storage, kv kvstore.Store) *Handler {
	return &Handler{
		engine:    engine,
		storage:   storage,
		kv:        kv,
		startTime: time.Now(),
	}
}

// Ping handles GET /api/ping.
//
// A lightweight endpoint for basic connectivity verification.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Health handles GET /api/health.
//
// Aggregates database and kv store health for liveness/readiness probes.
// Overall status is "healthy" only when every component is; otherwise it
// degrades, but the endpoint itself always answers 200 so probes can read
// the detail.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus, dbResponseTime := h.checkDatabaseHealth(ctx)
	kvStatus := h.checkKVHealth(ctx)

	overallStatus := "healthy"
	if dbStatus != "healthy" || kvStatus != "healthy" {
		overallStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
		"components": gin.H{
			"database": gin.H{
				"status":           dbStatus,
				"response_time_ms": dbResponseTime,
			},
			"kvstore": gin.H{
				"status": kvStatus,
			},
		},
	})
}

func (h *Handler) checkDatabaseHealth(ctx context.Context) (string, int64) {
	if h.storage == nil {
		return "unhealthy", 0
	}

	start := time.Now()
	err := h.storage.DB().PingContext(ctx)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return "unhealthy", responseTime
	}
	return "healthy", responseTime
}

func (h *Handler) checkKVHealth(ctx context.Context) string {
	if h.kv == nil {
		return "unhealthy"
	}
	if err := h.kv.Set(ctx, "health:probe", "1", time.Minute); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
