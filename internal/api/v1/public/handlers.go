// Package public implements the unauthenticated quick-link mirror. It
// exposes a read-only status projection of the linked target and, when the
// link allows it, recent logs.
package public

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/types"
	"watchpost/internal/core"
	"watchpost/internal/ratelimit"
	"watchpost/internal/storage"
)

// CrawlerSummary is the public projection of one crawler. It deliberately
// omits addresses, payloads, and identifiers beyond the display name.
type CrawlerSummary struct {
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// SummaryResponse is the quick-link landing document.
type SummaryResponse struct {
	Slug        string           `json:"slug"`
	TargetType  string           `json:"target_type"`
	Description string           `json:"description,omitempty"`
	AllowLogs   bool             `json:"allow_logs"`
	Crawlers    []CrawlerSummary `json:"crawlers"`
}

// LogLine is one public log record. Source details stay private.
type LogLine struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Handler manages the public endpoints.
type Handler struct {
	engine     *core.Engine
	storage    *storage.Storage
	logLimiter *ratelimit.Limiter
}

func NewHandler(engine *core.Engine, storage *storage.Storage, logLimiter *ratelimit.Limiter) *Handler {
	return &Handler{engine: engine, storage: storage, logLimiter: logLimiter}
}

func (h *Handler) activeLink(c *gin.Context) (*storage.QuickLink, bool) {
	slug := c.Param("slug")
	link, err := h.storage.Repos.QuickLinks.First(c.Request.Context(),
		"slug = ? AND is_active = 1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Link"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to resolve link"))
		return nil, false
	}
	return link, true
}

// linkedCrawlers resolves the crawler set behind a link.
func (h *Handler) linkedCrawlers(c *gin.Context, link *storage.QuickLink) ([]storage.Crawler, error) {
	ctx := c.Request.Context()

	switch link.TargetType {
	case storage.TargetTypeCrawler:
		crawler, err := h.storage.Repos.Crawlers.GetByID(ctx, *link.CrawlerID)
		if err != nil {
			return nil, err
		}
		return []storage.Crawler{*crawler}, nil
	case storage.TargetTypeAPIKey:
		crawler, err := h.storage.Repos.Crawlers.First(ctx, "api_key_id = ?", *link.APIKeyID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []storage.Crawler{*crawler}, nil
	default:
		return h.storage.Repos.Crawlers.Select().
			Where("group_id = ?", *link.GroupID).
			OrderBy("name ASC").
			Execute(ctx)
	}
}

// Summary handles GET /api/public/:slug.
func (h *Handler) Summary(c *gin.Context) {
	link, ok := h.activeLink(c)
	if !ok {
		return
	}

	crawlers, err := h.linkedCrawlers(c, link)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to resolve link target"))
		return
	}

	now := time.Now().UTC()
	summaries := make([]CrawlerSummary, 0, len(crawlers))
	for _, crawler := range crawlers {
		summaries = append(summaries, CrawlerSummary{
			Name:          crawler.Name,
			Status:        core.DeriveStatus(crawler.LastHeartbeat, now),
			LastHeartbeat: crawler.LastHeartbeat,
		})
	}

	c.JSON(http.StatusOK, types.SuccessResponse(SummaryResponse{
		Slug:        link.Slug,
		TargetType:  link.TargetType,
		Description: link.Description,
		AllowLogs:   link.AllowLogs,
		Crawlers:    summaries,
	}))
}

// Logs handles GET /api/public/:slug/logs.
//
// Only links that opted in serve logs, and only single-crawler targets.
// Anonymous traffic is rate limited per slug.
func (h *Handler) Logs(c *gin.Context) {
	link, ok := h.activeLink(c)
	if !ok {
		return
	}

	if !link.AllowLogs {
		c.JSON(http.StatusForbidden, types.ForbiddenErrorResponse("Logs are not public for this link"))
		return
	}
	if link.TargetType == storage.TargetTypeGroup {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Group links do not serve logs"))
		return
	}

	if !h.logLimiter.Allow(c.Request.Context(), "public:"+link.Slug) {
		c.JSON(http.StatusTooManyRequests,
			types.RateLimitedErrorResponse("Log query rate limit exceeded"))
		return
	}

	crawlers, err := h.linkedCrawlers(c, link)
	if err != nil || len(crawlers) == 0 {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Crawler"))
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 1 && v <= 500 {
			limit = v
		}
	}

	entries, err := h.storage.Repos.LogEntries.Select().
		Where("crawler_id = ?", crawlers[0].ID).
		OrderBy("id DESC").
		Limit(limit).
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list logs"))
		return
	}

	lines := make([]LogLine, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, LogLine{
			Level:   entry.Level,
			Message: entry.Message,
			TS:      entry.TS,
		})
	}

	c.JSON(http.StatusOK, types.SuccessResponse(lines))
}
