// Package links implements CRUD endpoints for quick links, the public
// unauthenticated read projections.
package links

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/storage"
)

// LinkRequest creates a quick link.
type LinkRequest struct {
	TargetType  string `json:"target_type" binding:"required,oneof=crawler api_key group"`
	TargetID    int64  `json:"target_id" binding:"required"`
	Description string `json:"description,omitempty" binding:"omitempty,max=500"`
	AllowLogs   bool   `json:"allow_logs,omitempty"`
}

// LinkResponse is a quick link in API responses.
type LinkResponse struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	TargetType  string    `json:"target_type"`
	TargetID    int64     `json:"target_id"`
	Description string    `json:"description,omitempty"`
	AllowLogs   bool      `json:"allow_logs"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Handler manages quick link endpoints.
type Handler struct {
	storage *storage.Storage
}

func NewHandler(storage *storage.Storage) *Handler {
	return &Handler{storage: storage}
}

// List handles GET /api/v1/links.
func (h *Handler) List(c *gin.Context) {
	user := auth.SessionUser(c)

	linkRows, err := h.storage.Repos.QuickLinks.Select().
		Where("created_by = ?", user.ID).
		OrderBy("id DESC").
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list links"))
		return
	}

	responses := make([]LinkResponse, 0, len(linkRows))
	for i := range linkRows {
		responses = append(responses, newLinkResponse(&linkRows[i]))
	}
	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// Create handles POST /api/v1/links.
func (h *Handler) Create(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	link := &storage.QuickLink{
		TargetType:  req.TargetType,
		Description: req.Description,
		AllowLogs:   req.AllowLogs,
		IsActive:    true,
		CreatedBy:   user.ID,
	}

	switch req.TargetType {
	case storage.TargetTypeCrawler:
		if _, err := h.storage.Repos.Crawlers.First(ctx,
			"id = ? AND user_id = ?", req.TargetID, user.ID); err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown target"))
			return
		}
		link.CrawlerID = &req.TargetID
	case storage.TargetTypeAPIKey:
		if _, err := h.storage.Repos.APIKeys.First(ctx,
			"id = ? AND user_id = ?", req.TargetID, user.ID); err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown target"))
			return
		}
		link.APIKeyID = &req.TargetID
	case storage.TargetTypeGroup:
		if _, err := h.storage.Repos.CrawlerGroups.First(ctx,
			"id = ? AND user_id = ?", req.TargetID, user.ID); err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown target"))
			return
		}
		link.GroupID = &req.TargetID
	}

	if err := link.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.QuickLinks.Create(ctx, link); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to create link"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newLinkResponse(link)))
}

// Delete handles DELETE /api/v1/links/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid link id"))
		return
	}

	link, err := h.storage.Repos.QuickLinks.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Link"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load link"))
		return
	}

	user := auth.SessionUser(c)
	if link.CreatedBy != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Link"))
		return
	}

	if err := h.storage.Repos.QuickLinks.Delete(c.Request.Context(), link.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete link"))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

func newLinkResponse(link *storage.QuickLink) LinkResponse {
	resp := LinkResponse{
		ID:          link.ID,
		Slug:        link.Slug,
		TargetType:  link.TargetType,
		Description: link.Description,
		AllowLogs:   link.AllowLogs,
		IsActive:    link.IsActive,
		CreatedAt:   link.CreatedAt,
	}
	switch {
	case link.CrawlerID != nil:
		resp.TargetID = *link.CrawlerID
	case link.APIKeyID != nil:
		resp.TargetID = *link.APIKeyID
	case link.GroupID != nil:
		resp.TargetID = *link.GroupID
	}
	return resp
}
