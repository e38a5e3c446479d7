package worker

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/core"
	"watchpost/internal/storage"
)

// Handler manages all worker-facing HTTP endpoints.
type Handler struct {
	engine  *core.Engine
	storage *storage.Storage
}

func NewHandler(engine *core.Engine, storage *storage.Storage) *Handler {
	return &Handler{engine: engine, storage: storage}
}

func nowUTC() time.Time { return time.Now().UTC() }

// crawlerForKey resolves the crawler bound to the authenticated API key.
func (h *Handler) crawlerForKey(c *gin.Context) (*storage.Crawler, bool) {
	key := auth.RequestAPIKey(c)
	crawler, err := h.storage.Repos.Crawlers.First(c.Request.Context(), "api_key_id = ?", key.ID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Crawler"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load crawler"))
		return nil, false
	}
	return crawler, true
}

// Register handles POST /api/worker/register.
//
// Binds a crawler identity to the presenting key. A key binds to at most one
// crawler, so repeat registrations are idempotent: the existing crawler is
// renamed rather than duplicated.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	key := auth.RequestAPIKey(c)
	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	crawler, err := h.storage.Repos.Crawlers.First(ctx, "api_key_id = ?", key.ID)
	if err == nil {
		if req.Name != "" && crawler.Name != req.Name {
			crawler.Name = req.Name
			if err := h.storage.Repos.Crawlers.Update(ctx, crawler); err != nil {
				c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to update crawler"))
				return
			}
		}
		c.JSON(http.StatusOK, types.SuccessResponse(RegisterResponse{
			CrawlerID: crawler.ID,
			Name:      crawler.Name,
			Status:    core.DeriveStatus(crawler.LastHeartbeat, nowUTC()),
			Created:   false,
		}))
		return
	}
	if !errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load crawler"))
		return
	}

	name := req.Name
	if name == "" {
		existing, err := h.storage.Repos.Crawlers.Count(ctx, "user_id = ?", user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to register crawler"))
			return
		}
		name = fmt.Sprintf("crawler-%d", existing+1)
	}

	crawler = &storage.Crawler{
		UserID:   user.ID,
		APIKeyID: &key.ID,
		GroupID:  key.GroupID,
		Name:     name,
		Status:   storage.CrawlerStatusOffline,
	}
	if req.DeviceName != "" {
		crawler.LastDeviceName = &req.DeviceName
	}
	if err := crawler.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.Crawlers.Create(ctx, crawler); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to register crawler"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(RegisterResponse{
		CrawlerID: crawler.ID,
		Name:      crawler.Name,
		Status:    storage.CrawlerStatusOffline,
		Created:   true,
	}))
}

// Heartbeat handles POST /api/worker/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	key := auth.RequestAPIKey(c)
	status, err := h.engine.RecordHeartbeat(c.Request.Context(), crawler, &key.ID, core.HeartbeatInput{
		Status:     req.Status,
		Payload:    req.Payload,
		SourceIP:   c.ClientIP(),
		DeviceName: req.DeviceName,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to record heartbeat"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"status": status}))
}

// Config handles GET /api/worker/config.
//
// Returns the effective configuration document for the crawler, or the
// explicit no-config sentinel when nothing is assigned.
func (h *Handler) Config(c *gin.Context) {
	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	effective, err := h.engine.ResolveConfig(c.Request.Context(), crawler)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to resolve config"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(effective))
}

// StartRun handles POST /api/worker/runs/start.
func (h *Handler) StartRun(c *gin.Context) {
	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	run, err := h.engine.StartRun(c.Request.Context(), crawler, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to start run"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(RunResponse{
		ID:        run.ID,
		Status:    run.Status,
		StartedAt: run.StartedAt,
	}))
}

// FinishRun handles POST /api/worker/runs/finish.
func (h *Handler) FinishRun(c *gin.Context) {
	var req FinishRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	run, err := h.engine.FinishRun(c.Request.Context(), crawler.ID, req.RunID, req.Status)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Run"))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(RunResponse{
		ID:        run.ID,
		Status:    run.Status,
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
	}))
}

// IngestLogs handles POST /api/worker/logs.
//
// Accepts a batch in the lines array or a single inlined line. Lines are
// stored in order; retention enforcement runs after the batch.
func (h *Handler) IngestLogs(c *gin.Context) {
	var req IngestLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	lines := req.Lines
	if len(lines) == 0 {
		if req.Message == "" {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("No log lines submitted"))
			return
		}
		lines = []LogLine{{Level: req.Level, Message: req.Message, RunID: req.RunID, DeviceName: req.DeviceName}}
	}

	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	key := auth.RequestAPIKey(c)
	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	stored := 0
	for _, line := range lines {
		_, err := h.engine.IngestLog(ctx, crawler, user, &key.ID, core.LogInput{
			Level:      line.Level,
			Message:    line.Message,
			RunID:      line.RunID,
			SourceIP:   c.ClientIP(),
			DeviceName: line.DeviceName,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
			return
		}
		stored++
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(gin.H{"stored": stored}))
}

// NextCommands handles GET /api/worker/commands/next.
//
// Delivers the next batch of pending commands and marks them accepted.
func (h *Handler) NextCommands(c *gin.Context) {
	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	commands, err := h.engine.NextCommands(c.Request.Context(), crawler.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to fetch commands"))
		return
	}

	responses := make([]CommandResponse, 0, len(commands))
	for _, cmd := range commands {
		responses = append(responses, CommandResponse{
			ID:        cmd.ID,
			Command:   cmd.Command,
			Payload:   cmd.Payload,
			Status:    cmd.Status,
			ExpiresAt: cmd.ExpiresAt,
			CreatedAt: cmd.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// AckCommand handles POST /api/worker/commands/:id/ack.
func (h *Handler) AckCommand(c *gin.Context) {
	commandID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid command id"))
		return
	}

	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	crawler, ok := h.crawlerForKey(c)
	if !ok {
		return
	}

	cmd, err := h.engine.AckCommand(c.Request.Context(), crawler.ID, commandID, req.Status, req.Result)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Command"))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(CommandResponse{
		ID:        cmd.ID,
		Command:   cmd.Command,
		Payload:   cmd.Payload,
		Status:    cmd.Status,
		ExpiresAt: cmd.ExpiresAt,
		CreatedAt: cmd.CreatedAt,
	}))
}
