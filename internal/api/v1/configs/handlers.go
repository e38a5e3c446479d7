// Package configs implements the configuration distribution endpoints:
// reusable templates and the assignments that bind a document to a crawler,
// an API key, or a group.
package configs

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/core"
	"watchpost/internal/storage"
)

// TemplateRequest creates or updates a template.
type TemplateRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	Format      *string `json:"format,omitempty" binding:"omitempty,oneof=json yaml"`
	Content     *string `json:"content,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// TemplateResponse is a template in API responses.
type TemplateResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AssignmentRequest creates an assignment. Content may come from a template
// (template_id) or be supplied inline; inline content wins when both are set.
type AssignmentRequest struct {
	Name        string  `json:"name" binding:"required,min=1,max=100"`
	Description string  `json:"description,omitempty" binding:"omitempty,max=500"`
	TargetType  string  `json:"target_type" binding:"required,oneof=crawler api_key group"`
	TargetID    int64   `json:"target_id" binding:"required"`
	TemplateID  *int64  `json:"template_id,omitempty"`
	Format      string  `json:"format,omitempty" binding:"omitempty,oneof=json yaml"`
	Content     *string `json:"content,omitempty"`
}

// AssignmentUpdateRequest edits an assignment. Only a content change bumps
// the version.
type AssignmentUpdateRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	Format      *string `json:"format,omitempty" binding:"omitempty,oneof=json yaml"`
	Content     *string `json:"content,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// AssignmentResponse is an assignment in API responses.
type AssignmentResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TargetType  string    `json:"target_type"`
	TargetID    int64     `json:"target_id"`
	TemplateID  *int64    `json:"template_id,omitempty"`
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	Version     int       `json:"version"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Handler manages configuration endpoints.
type Handler struct {
	engine  *core.Engine
	storage *storage.Storage
}

func NewHandler(engine *core.Engine, storage *storage.Storage) *Handler {
	return &Handler{engine: engine, storage: storage}
}

// ListTemplates handles GET /api/v1/configs/templates.
func (h *Handler) ListTemplates(c *gin.Context) {
	user := auth.SessionUser(c)

	templates, err := h.storage.Repos.ConfigTemplates.Select().
		Where("user_id = ?", user.ID).
		OrderBy("name ASC").
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list templates"))
		return
	}

	responses := make([]TemplateResponse, 0, len(templates))
	for i := range templates {
		responses = append(responses, newTemplateResponse(&templates[i]))
	}
	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// CreateTemplate handles POST /api/v1/configs/templates.
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.Name == nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("name and content are required"))
		return
	}

	user := auth.SessionUser(c)
	template := &storage.ConfigTemplate{
		UserID:   user.ID,
		Name:     *req.Name,
		Format:   storage.ConfigFormatJSON,
		Content:  *req.Content,
		IsActive: true,
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.Format != nil {
		template.Format = *req.Format
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	if err := template.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.ConfigTemplates.Create(c.Request.Context(), template); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("A template with this name already exists"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newTemplateResponse(template)))
}

// GetTemplate handles GET /api/v1/configs/templates/:id.
func (h *Handler) GetTemplate(c *gin.Context) {
	template, ok := h.ownedTemplate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newTemplateResponse(template)))
}

// UpdateTemplate handles PATCH /api/v1/configs/templates/:id.
//
// Editing a template never touches assignments copied from it; assignments
// own their content.
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	template, ok := h.ownedTemplate(c)
	if !ok {
		return
	}

	if req.Name != nil {
		template.Name = *req.Name
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.Format != nil {
		template.Format = *req.Format
	}
	if req.Content != nil {
		template.Content = *req.Content
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	if err := template.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if err := h.storage.Repos.ConfigTemplates.Update(c.Request.Context(), template); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("A template with this name already exists"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newTemplateResponse(template)))
}

// DeleteTemplate handles DELETE /api/v1/configs/templates/:id.
func (h *Handler) DeleteTemplate(c *gin.Context) {
	template, ok := h.ownedTemplate(c)
	if !ok {
		return
	}

	if err := h.storage.Repos.ConfigTemplates.Delete(c.Request.Context(), template.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete template"))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

// ListAssignments handles GET /api/v1/configs/assignments.
func (h *Handler) ListAssignments(c *gin.Context) {
	user := auth.SessionUser(c)
	query := h.storage.Repos.ConfigAssignments.Select().Where("user_id = ?", user.ID)

	if targetType := c.Query("target_type"); targetType != "" {
		query = query.Where("target_type = ?", targetType)
	}

	assignments, err := query.OrderBy("id DESC").Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list assignments"))
		return
	}

	responses := make([]AssignmentResponse, 0, len(assignments))
	for i := range assignments {
		responses = append(responses, newAssignmentResponse(&assignments[i]))
	}
	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// CreateAssignment handles POST /api/v1/configs/assignments.
//
// One assignment per (target_type, target_id) and account; duplicates
// conflict instead of silently replacing.
func (h *Handler) CreateAssignment(c *gin.Context) {
	var req AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	user := auth.SessionUser(c)
	ctx := c.Request.Context()

	if !h.targetOwned(c, user.ID, req.TargetType, req.TargetID) {
		return
	}

	assignment := &storage.ConfigAssignment{
		UserID:      user.ID,
		TemplateID:  req.TemplateID,
		Name:        req.Name,
		Description: req.Description,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		Format:      req.Format,
		IsActive:    true,
	}

	if req.TemplateID != nil {
		template, err := h.storage.Repos.ConfigTemplates.First(ctx,
			"id = ? AND user_id = ?", *req.TemplateID, user.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown template"))
			return
		}
		assignment.Format = template.Format
		assignment.Content = template.Content
	}
	if req.Content != nil {
		assignment.Content = *req.Content
	}
	if assignment.Format == "" {
		assignment.Format = storage.ConfigFormatJSON
	}

	if err := assignment.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.ConfigAssignments.Create(ctx, assignment); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("This target already has an assignment"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newAssignmentResponse(assignment)))
}

// GetAssignment handles GET /api/v1/configs/assignments/:id.
func (h *Handler) GetAssignment(c *gin.Context) {
	assignment, ok := h.ownedAssignment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newAssignmentResponse(assignment)))
}

// UpdateAssignment handles PATCH /api/v1/configs/assignments/:id.
func (h *Handler) UpdateAssignment(c *gin.Context) {
	var req AssignmentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	assignment, ok := h.ownedAssignment(c)
	if !ok {
		return
	}

	err := h.engine.ApplyAssignmentUpdate(c.Request.Context(), assignment,
		req.Name, req.Description, req.Format, req.Content, req.IsActive)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newAssignmentResponse(assignment)))
}

// DeleteAssignment handles DELETE /api/v1/configs/assignments/:id.
func (h *Handler) DeleteAssignment(c *gin.Context) {
	assignment, ok := h.ownedAssignment(c)
	if !ok {
		return
	}

	if err := h.storage.Repos.ConfigAssignments.Delete(c.Request.Context(), assignment.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete assignment"))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

func (h *Handler) ownedTemplate(c *gin.Context) (*storage.ConfigTemplate, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid template id"))
		return nil, false
	}

	template, err := h.storage.Repos.ConfigTemplates.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Template"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load template"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if template.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Template"))
		return nil, false
	}
	return template, true
}

func (h *Handler) ownedAssignment(c *gin.Context) (*storage.ConfigAssignment, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid assignment id"))
		return nil, false
	}

	assignment, err := h.storage.Repos.ConfigAssignments.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Assignment"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load assignment"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if assignment.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("Assignment"))
		return nil, false
	}
	return assignment, true
}

// targetOwned verifies the assignment target belongs to the account.
func (h *Handler) targetOwned(c *gin.Context, userID int64, targetType string, targetID int64) bool {
	ctx := c.Request.Context()
	var err error

	switch targetType {
	case storage.TargetTypeCrawler:
		_, err = h.storage.Repos.Crawlers.First(ctx, "id = ? AND user_id = ?", targetID, userID)
	case storage.TargetTypeAPIKey:
		_, err = h.storage.Repos.APIKeys.First(ctx, "id = ? AND user_id = ?", targetID, userID)
	case storage.TargetTypeGroup:
		_, err = h.storage.Repos.CrawlerGroups.First(ctx, "id = ? AND user_id = ?", targetID, userID)
	default:
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid target type"))
		return false
	}

	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Unknown target"))
		return false
	}
	return true
}

func newTemplateResponse(t *storage.ConfigTemplate) TemplateResponse {
	return TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Format:      t.Format,
		Content:     t.Content,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func newAssignmentResponse(a *storage.ConfigAssignment) AssignmentResponse {
	return AssignmentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		TargetType:  a.TargetType,
		TargetID:    a.TargetID,
		TemplateID:  a.TemplateID,
		Format:      a.Format,
		Content:     a.Content,
		Version:     a.Version,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
