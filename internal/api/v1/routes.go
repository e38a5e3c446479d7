package v1

import (
	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/v1/alerts"
	"watchpost/internal/api/v1/configs"
	"watchpost/internal/api/v1/crawlers"
	"watchpost/internal/api/v1/groups"
	"watchpost/internal/api/v1/links"
	"watchpost/internal/api/v1/public"
	"watchpost/internal/api/v1/worker"
	"watchpost/internal/core"
	"watchpost/internal/kvstore"
	"watchpost/internal/ratelimit"
	"watchpost/internal/storage"
)

// Deps bundles the shared services the route handlers need.
type Deps struct {
	Engine     *core.Engine
	Storage    *storage.Storage
	KV         kvstore.Store
	Sessions   *auth.SessionManager
	LogLimiter *ratelimit.Limiter
}

// SetupRoutes configures the operator API routes. The caller attaches the
// session middleware to the group before calling.
func SetupRoutes(routerGroup *gin.RouterGroup, deps Deps) {
	crawlersHandler := crawlers.NewHandler(deps.Engine, deps.Storage, deps.LogLimiter)
	groupsHandler := groups.NewHandler(deps.Storage)
	configsHandler := configs.NewHandler(deps.Engine, deps.Storage)
	alertsHandler := alerts.NewHandler(deps.Storage)
	linksHandler := links.NewHandler(deps.Storage)

	// Cross-crawler log queries
	routerGroup.GET("/logs", crawlersHandler.ListAllLogs)
	routerGroup.GET("/logs/usage", crawlersHandler.AccountUsage)

	// Crawler fleet management
	crawlersGroup := routerGroup.Group("/crawlers")
	{
		crawlersGroup.GET("", crawlersHandler.List)
		crawlersGroup.GET("/:id", crawlersHandler.Get)
		crawlersGroup.PATCH("/:id", crawlersHandler.Update)
		crawlersGroup.DELETE("/:id", crawlersHandler.Delete)
		crawlersGroup.GET("/:id/runs", crawlersHandler.Runs)
		crawlersGroup.GET("/:id/heartbeats", crawlersHandler.Heartbeats)
		crawlersGroup.GET("/:id/commands", crawlersHandler.Commands)
		crawlersGroup.POST("/:id/commands", crawlersHandler.IssueCommand)
		crawlersGroup.GET("/:id/logs", crawlersHandler.Logs)
		crawlersGroup.GET("/:id/stats", crawlersHandler.Stats)
		crawlersGroup.GET("/:id/usage", crawlersHandler.Usage)
		crawlersGroup.DELETE("/:id/logs", crawlersHandler.PurgeLogs)
	}

	// Group management
	groupsGroup := routerGroup.Group("/groups")
	{
		groupsGroup.GET("", groupsHandler.List)
		groupsGroup.POST("", groupsHandler.Create)
		groupsGroup.GET("/:id", groupsHandler.Get)
		groupsGroup.PATCH("/:id", groupsHandler.Update)
		groupsGroup.DELETE("/:id", groupsHandler.Delete)
	}

	// API key management
	keysGroup := routerGroup.Group("/keys")
	{
		keysGroup.GET("", crawlersHandler.ListKeys)
		keysGroup.POST("", crawlersHandler.CreateKey)
		keysGroup.PATCH("/:id", crawlersHandler.UpdateKey)
		keysGroup.DELETE("/:id", crawlersHandler.DeleteKey)
	}

	// Configuration templates and assignments
	configsGroup := routerGroup.Group("/configs")
	{
		configsGroup.GET("/templates", configsHandler.ListTemplates)
		configsGroup.POST("/templates", configsHandler.CreateTemplate)
		configsGroup.GET("/templates/:id", configsHandler.GetTemplate)
		configsGroup.PATCH("/templates/:id", configsHandler.UpdateTemplate)
		configsGroup.DELETE("/templates/:id", configsHandler.DeleteTemplate)

		configsGroup.GET("/assignments", configsHandler.ListAssignments)
		configsGroup.POST("/assignments", configsHandler.CreateAssignment)
		configsGroup.GET("/assignments/:id", configsHandler.GetAssignment)
		configsGroup.PATCH("/assignments/:id", configsHandler.UpdateAssignment)
		configsGroup.DELETE("/assignments/:id", configsHandler.DeleteAssignment)
	}

	// Alert rules and events
	alertsGroup := routerGroup.Group("/alerts")
	{
		alertsGroup.GET("/rules", alertsHandler.ListRules)
		alertsGroup.POST("/rules", alertsHandler.CreateRule)
		alertsGroup.GET("/rules/:id", alertsHandler.GetRule)
		alertsGroup.PATCH("/rules/:id", alertsHandler.UpdateRule)
		alertsGroup.DELETE("/rules/:id", alertsHandler.DeleteRule)
		alertsGroup.GET("/events", alertsHandler.ListEvents)
	}

	// Quick links
	linksGroup := routerGroup.Group("/links")
	{
		linksGroup.GET("", linksHandler.List)
		linksGroup.POST("", linksHandler.Create)
		linksGroup.DELETE("/:id", linksHandler.Delete)
	}
}

// SetupWorkerRoutes configures the worker-facing routes. The caller attaches
// the API key middleware to the group before calling.
func SetupWorkerRoutes(routerGroup *gin.RouterGroup, deps Deps) {
	workerHandler := worker.NewHandler(deps.Engine, deps.Storage)

	routerGroup.POST("/register", workerHandler.Register)
	routerGroup.POST("/heartbeat", workerHandler.Heartbeat)
	routerGroup.GET("/config", workerHandler.Config)
	routerGroup.POST("/runs/start", workerHandler.StartRun)
	routerGroup.POST("/runs/finish", workerHandler.FinishRun)
	routerGroup.POST("/logs", workerHandler.IngestLogs)
	routerGroup.GET("/commands/next", workerHandler.NextCommands)
	routerGroup.POST("/commands/:id/ack", workerHandler.AckCommand)
}

// SetupPublicRoutes configures the unauthenticated quick-link mirror.
func SetupPublicRoutes(routerGroup *gin.RouterGroup, deps Deps) {
	publicHandler := public.NewHandler(deps.Engine, deps.Storage, deps.LogLimiter)

	routerGroup.GET("/:slug", publicHandler.Summary)
	routerGroup.GET("/:slug/logs", publicHandler.Logs)
}
