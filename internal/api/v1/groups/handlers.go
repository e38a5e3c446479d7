// Package groups implements CRUD endpoints for crawler groups.
package groups

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

// GroupRequest creates or updates a group.
type GroupRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	Color       *string `json:"color,omitempty" binding:"omitempty,max=20"`
}

// GroupResponse is a group with its crawler count.
type GroupResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description,omitempty"`
	Color        string    `json:"color,omitempty"`
	CrawlerCount int64     `json:"crawler_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Handler manages group endpoints.
type Handler struct {
	storage *storage.Storage
}

func NewHandler(storage *storage.Storage) *Handler {
	return &Handler{storage: storage}
}

// List handles GET /api/v1/groups.
func (h *Handler) List(c *gin.Context) {
	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	groups, err := h.storage.Repos.CrawlerGroups.Select().
		Where("user_id = ?", user.ID).
		OrderBy("name ASC").
		Execute(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list groups"))
		return
	}

	responses := make([]GroupResponse, 0, len(groups))
	for i := range groups {
		count, err := h.storage.Repos.Crawlers.Count(ctx, "group_id = ?", groups[i].ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to count crawlers"))
			return
		}
		responses = append(responses, newGroupResponse(&groups[i], count))
	}

	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// Create handles POST /api/v1/groups.
func (h *Handler) Create(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.Name == nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("name is required"))
		return
	}

	user := auth.SessionUser(c)
	group := &storage.CrawlerGroup{
		UserID: user.ID,
		Name:   *req.Name,
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Color != nil {
		group.Color = *req.Color
	}

	if err := group.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.CrawlerGroups.Create(c.Request.Context(), group); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("A group with this name already exists"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newGroupResponse(group, 0)))
}

// Get handles GET /api/v1/groups/:id.
func (h *Handler) Get(c *gin.Context) {
	group, ok := h.ownedGroup(c)
	if !ok {
		return
	}

	count, err := h.storage.Repos.Crawlers.Count(c.Request.Context(), "group_id = ?", group.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to count crawlers"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newGroupResponse(group, count)))
}

// Update handles PATCH /api/v1/groups/:id. Renaming regenerates the slug.
func (h *Handler) Update(c *gin.Context) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	group, ok := h.ownedGroup(c)
	if !ok {
		return
	}

	if req.Name != nil && *req.Name != group.Name {
		group.Name = *req.Name
		group.Slug = storage.Slugify(*req.Name)
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Color != nil {
		group.Color = *req.Color
	}

	if err := group.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if err := h.storage.Repos.CrawlerGroups.Update(c.Request.Context(), group); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("A group with this name already exists"))
		return
	}

	count, err := h.storage.Repos.Crawlers.Count(c.Request.Context(), "group_id = ?", group.ID)
	if err != nil {
		count = 0
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newGroupResponse(group, count)))
}

// Delete handles DELETE /api/v1/groups/:id. Member crawlers are detached,
// not deleted.
func (h *Handler) Delete(c *gin.Context) {
	group, ok := h.ownedGroup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.storage.DB().ExecContext(ctx,
		"UPDATE crawlers SET group_id = NULL WHERE group_id = ?", group.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to detach crawlers"))
		return
	}
	if err := h.storage.Repos.CrawlerGroups.Delete(ctx, group.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete group"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

func (h *Handler) ownedGroup(c *gin.Context) (*storage.CrawlerGroup, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid group id"))
		return nil, false
	}

	group, err := h.storage.Repos.CrawlerGroups.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Group"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load group"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if group.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Group"))
		return nil, false
	}
	return group, true
}

func newGroupResponse(group *storage.CrawlerGroup, crawlerCount int64) GroupResponse {
	return GroupResponse{
		ID:           group.ID,
		Name:         group.Name,
		Slug:         group.Slug,
		Description:  group.Description,
		Color:        group.Color,
		CrawlerCount: crawlerCount,
		CreatedAt:    group.CreatedAt,
	}
}
