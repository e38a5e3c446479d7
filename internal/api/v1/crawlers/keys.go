package crawlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"watchpost/internal/api/auth"
	"watchpost/internal/api/types"
	"watchpost/internal/storage"
)

// ListKeys handles GET /api/v1/keys.
//
// The key value is masked on list; it is only shown once, on creation.
func (h *Handler) ListKeys(c *gin.Context) {
	user := auth.SessionUser(c)

	keys, err := h.storage.Repos.APIKeys.Select().
		Where("user_id = ?", user.ID).
		OrderBy("id DESC").
		Execute(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to list keys"))
		return
	}

	responses := make([]APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, newKeyResponse(&key, false))
	}

	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// CreateKey handles POST /api/v1/keys.
func (h *Handler) CreateKey(c *gin.Context) {
	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if req.Name == nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("name is required"))
		return
	}

	user := auth.SessionUser(c)
	key := &storage.APIKey{
		UserID:     user.ID,
		GroupID:    req.GroupID,
		Name:       *req.Name,
		Active:     true,
		AllowedIPs: req.AllowedIPs,
	}
	if req.Active != nil {
		key.Active = *req.Active
	}

	if err := key.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if _, err := h.storage.Repos.APIKeys.Create(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusConflict, types.ConflictErrorResponse("Key could not be created"))
		return
	}

	c.JSON(http.StatusCreated, types.SuccessResponse(newKeyResponse(key, true)))
}

// UpdateKey handles PATCH /api/v1/keys/:id.
func (h *Handler) UpdateKey(c *gin.Context) {
	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}

	key, ok := h.ownedKey(c)
	if !ok {
		return
	}

	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.GroupID != nil {
		if *req.GroupID == 0 {
			key.GroupID = nil
		} else {
			key.GroupID = req.GroupID
		}
	}
	if req.Active != nil {
		key.Active = *req.Active
	}
	if req.AllowedIPs != nil {
		if *req.AllowedIPs == "" {
			key.AllowedIPs = nil
		} else {
			key.AllowedIPs = req.AllowedIPs
		}
	}

	if err := key.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse(err.Error()))
		return
	}
	if err := h.storage.Repos.APIKeys.Update(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to update key"))
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(newKeyResponse(key, false)))
}

// DeleteKey handles DELETE /api/v1/keys/:id.
func (h *Handler) DeleteKey(c *gin.Context) {
	key, ok := h.ownedKey(c)
	if !ok {
		return
	}

	if err := h.storage.Repos.APIKeys.Delete(c.Request.Context(), key.ID); err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to delete key"))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"deleted": true}))
}

func (h *Handler) ownedKey(c *gin.Context) (*storage.APIKey, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ValidationErrorResponse("Invalid key id"))
		return nil, false
	}

	key, err := h.storage.Repos.APIKeys.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("API key"))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.InternalErrorResponse("Failed to load key"))
		return nil, false
	}

	user := auth.SessionUser(c)
	if key.UserID != user.ID {
		c.JSON(http.StatusNotFound, types.NotFoundErrorResponse("API key"))
		return nil, false
	}
	return key, true
}

func newKeyResponse(key *storage.APIKey, includeSecret bool) APIKeyResponse {
	resp := APIKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		GroupID:    key.GroupID,
		Active:     key.Active,
		AllowedIPs: key.AllowedIPs,
		LastUsedAt: key.LastUsedAt,
		LastUsedIP: key.LastUsedIP,
		CreatedAt:  key.CreatedAt,
	}
	if includeSecret {
		resp.Key = key.Key
	} else if len(key.Key) > 8 {
		resp.Key = key.Key[:8] + "..."
	}
	return resp
}
